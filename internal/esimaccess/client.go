package esimaccess

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	pathPackageList = "/api/v1/open/package/list"
	pathOrder       = "/api/v1/open/esim/order"
	pathQuery       = "/api/v1/open/esim/query"
)

// Client talks to the eSIM vendor open API. Every request is signed with
// HMAC-SHA256(timestamp + requestId + accessCode + body).
type Client struct {
	BaseURL    string
	AccessCode string
	SecretKey  string
	HTTP       *http.Client
	Now        func() time.Time
}

func New(baseURL, accessCode, secretKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		AccessCode: accessCode,
		SecretKey:  secretKey,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"errorCode"`
	ErrorMsg  string          `json:"errorMsg"`
	Obj       json.RawMessage `json:"obj"`
}

// APIError is a well-formed rejection from the vendor, as opposed to a transport failure.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string { return fmt.Sprintf("esim vendor error %s: %s", e.Code, e.Msg) }

// Sign computes the RT-Signature header value.
func Sign(secret, timestamp, requestID, accessCode string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(timestamp + requestID + accessCode))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) do(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	rid := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("RT-AccessCode", c.AccessCode)
	req.Header.Set("RT-RequestID", rid)
	req.Header.Set("RT-Timestamp", ts)
	req.Header.Set("RT-Signature", Sign(c.SecretKey, ts, rid, c.AccessCode, body))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("esim vendor %s: http %d", path, resp.StatusCode)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("esim vendor %s: decode: %w", path, err)
	}
	if !env.Success {
		return &APIError{Code: env.ErrorCode, Msg: env.ErrorMsg}
	}
	if out == nil || len(env.Obj) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Obj, out); err != nil {
		return fmt.Errorf("esim vendor %s: decode obj: %w", path, err)
	}
	return nil
}

type PackageQuery struct {
	LocationCode string `json:"locationCode"`
	Type         string `json:"type"`
	PackageCode  string `json:"packageCode"`
	Slug         string `json:"slug"`
}

func (c *Client) ListPackages(ctx context.Context, q PackageQuery) ([]Package, error) {
	var obj struct {
		PackageList []Package `json:"packageList"`
	}
	if err := c.do(ctx, pathPackageList, q, &obj); err != nil {
		return nil, err
	}
	return obj.PackageList, nil
}

type PackageInfo struct {
	PackageCode string `json:"packageCode"`
	Count       int    `json:"count"`
	Price       int64  `json:"price"`
}

type OrderRequest struct {
	TransactionID   string        `json:"transactionId"`
	Amount          int64         `json:"amount"`
	PackageInfoList []PackageInfo `json:"packageInfoList"`
}

// OrderProfiles places a vendor order and returns its order number. The vendor
// deduplicates on TransactionID.
func (c *Client) OrderProfiles(ctx context.Context, req OrderRequest) (string, error) {
	var obj struct {
		OrderNo string `json:"orderNo"`
	}
	if err := c.do(ctx, pathOrder, req, &obj); err != nil {
		return "", err
	}
	if obj.OrderNo == "" {
		return "", &APIError{Code: "EMPTY_ORDER_NO", Msg: "vendor returned no orderNo"}
	}
	return obj.OrderNo, nil
}

type pager struct {
	PageNum  int `json:"pageNum"`
	PageSize int `json:"pageSize"`
}

// QueryProfiles returns the profiles issued for orderNo so far. An empty slice means
// the vendor has not allocated them yet.
func (c *Client) QueryProfiles(ctx context.Context, orderNo string) ([]Profile, error) {
	in := struct {
		OrderNo string `json:"orderNo"`
		ICCID   string `json:"iccid"`
		Pager   pager  `json:"pager"`
	}{OrderNo: orderNo, Pager: pager{PageNum: 1, PageSize: 10}}
	var obj struct {
		EsimList []Profile `json:"esimList"`
	}
	if err := c.do(ctx, pathQuery, in, &obj); err != nil {
		return nil, err
	}
	return obj.EsimList, nil
}
