package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkax "github.com/ariefcatur/esim-orders/internal/kafka"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
)

type Provisioner interface {
	Provision(ctx context.Context, o *orders.Order) Result
}

type OrderReader interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	ListStalePaid(ctx context.Context, minAge time.Duration, limit int) ([]orders.Order, error)
}

// Redriver retries provisioning for orders that were paid but left without an eSIM.
// It is fed by order.provisioning.pending events and by a periodic sweep.
type Redriver struct {
	Provisioner Provisioner
	Orders      OrderReader
	// MarkOnce reports whether key was seen for the first time.
	MarkOnce    func(ctx context.Context, key string) (bool, error)
	ServiceName string
	Logger      *slog.Logger

	MinAge time.Duration
	Batch  int
}

// HandlePending is installed as the consumer handler.
func (r *Redriver) HandlePending(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		return err
	}
	if env.EventType != orders.EventProvisioningPending {
		return nil
	}

	if r.MarkOnce != nil {
		first, err := r.MarkOnce(ctx, fmt.Sprintf(redisx.KeyDedup, r.ServiceName, env.EventID))
		if err == nil && !first {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.ProvisioningPendingPayload](env.Payload)
	if err != nil {
		return err
	}
	_, err = r.Redrive(ctx, p.OrderID)
	return err
}

// Redrive provisions one order if it is still PAID.
func (r *Redriver) Redrive(ctx context.Context, orderID string) (Result, error) {
	o, err := r.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		r.Logger.Warn("redrive: order not found", "order_id", orderID)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if o.Status != orders.StatusPaid {
		r.Logger.Debug("redrive: order not PAID, skipping", "order_id", orderID, "status", o.Status)
		return Result{}, nil
	}

	res := r.Provisioner.Provision(ctx, o)
	r.Logger.Info("redrive finished", "order_id", orderID, "result", res.Status, "attempts", res.Attempts)
	return res, nil
}

// Sweep re-drives orders that have been PAID for longer than MinAge.
func (r *Redriver) Sweep(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 20
	}
	stale, err := r.Orders.ListStalePaid(ctx, r.MinAge, batch)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range stale {
		if ctx.Err() != nil {
			break
		}
		res, err := r.Redrive(ctx, stale[i].ID)
		if err != nil {
			r.Logger.Error("sweep redrive failed", "order_id", stale[i].ID, "err", err)
			continue
		}
		if res.Status == StatusCompleted {
			done++
		}
	}
	return done, nil
}

// RunSweeper calls Sweep every interval until ctx ends.
func (r *Redriver) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.Logger.Error("sweep failed", "err", err)
				continue
			}
			if n > 0 {
				r.Logger.Info("sweep completed orders", "count", n)
			}
		}
	}
}
