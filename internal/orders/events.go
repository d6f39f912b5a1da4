package orders

const (
	EventOrderPaid           = "OrderPaid"
	EventOrderFailed         = "OrderFailed"
	EventOrderCompleted      = "OrderCompleted"
	EventOrderRefunded       = "OrderRefunded"
	EventProvisioningPending = "ProvisioningPending"
)

type StatusChangedPayload struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	ExternalRef string `json:"external_ref"`
	From        Status `json:"from"`
	To          Status `json:"to"`
	TotalCents  int64  `json:"total_cents"`
	Channel     string `json:"channel"` // callback | webhook | provisioner
}

type OrderCompletedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	ESimID  string `json:"esim_id"`
	ICCID   string `json:"iccid"`
}

type ProvisioningPendingPayload struct {
	OrderID       string `json:"order_id"`
	PackageCode   string `json:"package_code"`
	VendorOrderNo string `json:"vendor_order_no,omitempty"`
	Reason        string `json:"reason"` // e.g. POLL_EXHAUSTED | VENDOR_ERROR
	Attempts      int    `json:"attempts"`
}

func StatusChanged(o *Order, from, to Status, channel string) StatusChangedPayload {
	return StatusChangedPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		ExternalRef: o.ExternalRef,
		From:        from,
		To:          to,
		TotalCents:  o.TotalCents,
		Channel:     channel,
	}
}
