package provisioning

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/esim-orders/internal/catalog"
	"github.com/ariefcatur/esim-orders/internal/esimaccess"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/redisx"
	"github.com/skip2/go-qrcode"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 10
)

type Status string

const (
	StatusCompleted       Status = "COMPLETED"
	StatusPending         Status = "PENDING" // profile not issued in time, order stays PAID
	StatusVendorError     Status = "VENDOR_ERROR"
	StatusNoPackage       Status = "NO_PACKAGE"
	StatusPackageNotFound Status = "PACKAGE_NOT_FOUND"
	StatusInProgress      Status = "IN_PROGRESS" // another run holds the order
	StatusSuperseded      Status = "SUPERSEDED"  // order was no longer PAID when the profile arrived
)

// Result of one provisioning run. None of the statuses move the order to FAILED.
type Result struct {
	Status   Status
	ESim     *orders.ESim
	Attempts int
	Err      error
}

type Vendor interface {
	OrderProfiles(ctx context.Context, req esimaccess.OrderRequest) (string, error)
	QueryProfiles(ctx context.Context, orderNo string) ([]esimaccess.Profile, error)
}

type Packages interface {
	Resolve(ctx context.Context, ref string) (*catalog.Package, error)
}

type Ledger interface {
	SetVendorOrderNo(ctx context.Context, id, vendorOrderNo string) error
	CompleteWithESim(ctx context.Context, e *orders.ESim) (bool, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type StatusCache interface {
	Invalidate(ctx context.Context, orderID string)
}

type EventPublisher interface {
	Emit(ctx context.Context, topic, key, eventType string, payload any)
}

// Workflow turns a PAID order into an issued eSIM. It orders the profile from the
// vendor, then polls at Interval for at most MaxAttempts queries.
type Workflow struct {
	Vendor   Vendor
	Packages Packages
	Orders   Ledger
	Locker   Locker         // optional
	Events   EventPublisher // optional
	Cache    StatusCache    // optional

	// EmitPending publishes order.provisioning.pending when a run ends without a profile,
	// handing the order to the re-drive worker.
	EmitPending bool

	Interval    time.Duration
	MaxAttempts int
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *slog.Logger
}

func (w *Workflow) interval() time.Duration {
	if w.Interval > 0 {
		return w.Interval
	}
	return DefaultPollInterval
}

func (w *Workflow) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (w *Workflow) sleep(ctx context.Context, d time.Duration) error {
	if w.Sleep != nil {
		return w.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Provision runs the workflow for o, which must be PAID.
func (w *Workflow) Provision(ctx context.Context, o *orders.Order) Result {
	log := w.Logger.With("order_id", o.ID)

	if o.PackageCode == "" {
		log.Warn("order has no package code, provisioning deferred")
		return Result{Status: StatusNoPackage}
	}

	if w.Locker != nil {
		release, err := w.Locker.Acquire(ctx, fmt.Sprintf(redisx.KeyProvisionLock, o.ID))
		switch {
		case errors.Is(err, redisx.ErrLockHeld):
			log.Info("provisioning already running elsewhere")
			return Result{Status: StatusInProgress}
		case err != nil:
			// the ledger guard still prevents a second eSIM
			log.Warn("provision lock unavailable, continuing", "err", err)
		default:
			defer release()
		}
	}

	pkg, err := w.Packages.Resolve(ctx, o.PackageCode)
	if errors.Is(err, catalog.ErrNotFound) {
		log.Error("package not found", "package_code", o.PackageCode)
		return Result{Status: StatusPackageNotFound, Err: err}
	}
	if err != nil {
		log.Error("package lookup failed", "package_code", o.PackageCode, "err", err)
		w.pending(ctx, o, "VENDOR_ERROR", 0)
		return Result{Status: StatusVendorError, Err: err}
	}

	orderNo := o.VendorOrderNo
	if orderNo == "" {
		orderNo, err = w.Vendor.OrderProfiles(ctx, esimaccess.OrderRequest{
			TransactionID:   orders.VendorTransactionID(o.ID),
			Amount:          pkg.VendorPrice,
			PackageInfoList: []esimaccess.PackageInfo{{PackageCode: pkg.Code, Count: 1, Price: pkg.VendorPrice}},
		})
		if err != nil {
			log.Error("vendor order failed", "package_code", pkg.Code, "err", err)
			w.pending(ctx, o, "VENDOR_ERROR", 0)
			return Result{Status: StatusVendorError, Err: err}
		}
		if err := w.Orders.SetVendorOrderNo(ctx, o.ID, orderNo); err != nil {
			log.Warn("store vendor order no failed", "vendor_order_no", orderNo, "err", err)
		}
		o.VendorOrderNo = orderNo
	}

	profile, attempts := w.poll(ctx, log, orderNo)
	if profile == nil {
		log.Warn("profile not issued yet, order stays PAID", "vendor_order_no", orderNo, "attempts", attempts)
		w.pending(ctx, o, "POLL_EXHAUSTED", attempts)
		return Result{Status: StatusPending, Attempts: attempts}
	}

	e := buildESim(o, pkg, profile, log)
	ok, err := w.Orders.CompleteWithESim(ctx, e)
	if err != nil {
		log.Error("store esim failed", "iccid", e.ICCID, "err", err)
		w.pending(ctx, o, "STORE_FAILED", attempts)
		return Result{Status: StatusPending, Attempts: attempts, Err: err}
	}
	if !ok {
		log.Info("order no longer PAID, profile not stored", "iccid", e.ICCID)
		return Result{Status: StatusSuperseded, Attempts: attempts}
	}
	if w.Cache != nil {
		w.Cache.Invalidate(ctx, o.ID)
	}

	if w.Events != nil {
		w.Events.Emit(ctx, orders.TopicOrderCompleted, o.ID, orders.EventOrderCompleted, orders.OrderCompletedPayload{
			OrderID: o.ID, UserID: o.UserID, ESimID: e.ID, ICCID: e.ICCID,
		})
	}
	log.Info("esim provisioned", "iccid", e.ICCID, "attempts", attempts)
	return Result{Status: StatusCompleted, ESim: e, Attempts: attempts}
}

// poll queries until a profile shows up, MaxAttempts is reached or the budget of
// Interval*MaxAttempts runs out. Query errors count as "not ready".
func (w *Workflow) poll(ctx context.Context, log *slog.Logger, orderNo string) (*esimaccess.Profile, int) {
	interval, limit := w.interval(), w.maxAttempts()
	ctx, cancel := context.WithTimeout(ctx, interval*time.Duration(limit))
	defer cancel()

	attempts := 0
	for attempts < limit {
		attempts++
		if p := w.pollOnce(ctx, log, orderNo, attempts); p != nil {
			return p, attempts
		}
		if attempts == limit {
			break
		}
		if err := w.sleep(ctx, interval); err != nil {
			break
		}
	}
	return nil, attempts
}

func (w *Workflow) pollOnce(ctx context.Context, log *slog.Logger, orderNo string, attempt int) *esimaccess.Profile {
	list, err := w.Vendor.QueryProfiles(ctx, orderNo)
	if err != nil {
		log.Debug("profile query failed", "attempt", attempt, "err", err)
		return nil
	}
	for i := range list {
		if list[i].ICCID != "" {
			return &list[i]
		}
	}
	log.Debug("profile not ready", "attempt", attempt)
	return nil
}

func (w *Workflow) pending(ctx context.Context, o *orders.Order, reason string, attempts int) {
	if w.Events == nil || !w.EmitPending {
		return
	}
	w.Events.Emit(ctx, orders.TopicProvisioningPending, o.ID, orders.EventProvisioningPending, orders.ProvisioningPendingPayload{
		OrderID:       o.ID,
		PackageCode:   o.PackageCode,
		VendorOrderNo: o.VendorOrderNo,
		Reason:        reason,
		Attempts:      attempts,
	})
}

func buildESim(o *orders.Order, pkg *catalog.Package, p *esimaccess.Profile, log *slog.Logger) *orders.ESim {
	qr := p.QRCodeURL
	if qr == "" && p.AC != "" {
		var err error
		if qr, err = QRDataURI(p.AC); err != nil {
			log.Warn("qr fallback failed", "err", err)
		}
	}
	return &orders.ESim{
		OrderID:        o.ID,
		UserID:         o.UserID,
		ICCID:          p.ICCID,
		QRCode:         qr,
		ActivationCode: p.AC,
		Status:         orders.ESimInactive,
		DataLimit:      p.TotalVolume,
		ExpiresAt:      p.ExpiresAt(),
		Country:        pkg.Country,
		CountryName:    pkg.CountryName,
		PlanName:       pkg.PlanName,
	}
}

// QRDataURI renders an activation code as a PNG data URI.
func QRDataURI(activationCode string) (string, error) {
	png, err := qrcode.Encode(activationCode, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
