package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Order struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Status      Status    `json:"status"` // lihat status.go
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	Country     string    `json:"country"`
	CountryName string    `json:"country_name"`
	PlanName    string    `json:"plan_name"`
	DataAmount  string    `json:"data_amount"`
	Validity    int       `json:"validity_days"`
	PackageCode string    `json:"package_code"`
	PromoCode   string    `json:"promo_code,omitempty"`
	Discount    int64     `json:"discount_cents"`
	ExternalRef string    `json:"external_ref"`

	// Vendor order number, set once the provisioning vendor accepted the order.
	VendorOrderNo string    `json:"vendor_order_no,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ESim struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	UserID         string     `json:"user_id"`
	ICCID          string     `json:"iccid"`
	QRCode         string     `json:"qr_code"`
	ActivationCode string     `json:"activation_code,omitempty"`
	Status         ESimStatus `json:"status"`
	DataUsed       int64      `json:"data_used"`
	DataLimit      int64      `json:"data_limit"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Country        string     `json:"country"`
	CountryName    string     `json:"country_name"`
	PlanName       string     `json:"plan_name"`

	IsGifted      bool       `json:"is_gifted"`
	GiftedToEmail *string    `json:"gifted_to_email,omitempty"`
	GiftedToName  *string    `json:"gifted_to_name,omitempty"`
	GiftMessage   *string    `json:"gift_message,omitempty"`
	GiftedAt      *time.Time `json:"gifted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewExternalRef returns the correlation key handed to the payment gateway.
func NewExternalRef() string {
	return fmt.Sprintf("ESIM-%d-%s", time.Now().UnixMilli(), strings.ToUpper(uuid.NewString()[:6]))
}

// VendorTransactionID is the idempotency key sent to the provisioning vendor. It is
// derived from the order so that a retried vendor order cannot create a second profile.
func VendorTransactionID(orderID string) string {
	return "esim-" + orderID
}
