package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// header names in lookup order
var signatureHeaders = []string{"X-G2pay-Signature", "X-Webhook-Signature", "Signature"}

func Sign(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// Verify checks a hex HMAC-SHA256 of body in constant time.
func Verify(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hmac.Equal(got, m.Sum(nil))
}

func SignatureFromHeader(h http.Header) string {
	for _, k := range signatureHeaders {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}
