package checkout

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/events"
	"github.com/noah-isme/pos-settlement/internal/lock"
	"github.com/noah-isme/pos-settlement/internal/pricing"
)

// Receipt is the backend's acknowledgement of a submission.
type Receipt struct {
	ID     string `json:"id"`
	Number string `json:"number,omitempty"`
}

// SaleSubmitter sends a finished sale to the backend.
type SaleSubmitter interface {
	SubmitSale(ctx context.Context, idempotencyKey string, payload SalePayload) (Receipt, error)
}

// ReturnSubmitter sends a finished return or exchange to the backend.
type ReturnSubmitter interface {
	SubmitReturn(ctx context.Context, idempotencyKey string, payload ReturnPayload) (Receipt, error)
}

// PriceSaver persists a cashier override as a customer special price.
type PriceSaver interface {
	SaveSpecialPrice(ctx context.Context, sp pricing.SpecialPrice) error
}

// OrderSource looks up an original order for a return.
type OrderSource interface {
	FetchOriginalOrder(ctx context.Context, orderID string) (OriginalOrder, error)
}

type deps struct {
	logger zerolog.Logger
	bus    *events.Bus
	guard  lock.Guard
	idem   common.Idem
	saver  PriceSaver
	now    func() time.Time
}

func newDeps(opts []Option) deps {
	d := deps{
		logger: zerolog.Nop(),
		guard:  lock.NewLocal(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Option customises a session.
type Option func(*deps)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *deps) { d.logger = logger }
}

// WithEvents sets the bus domain events are emitted on.
func WithEvents(bus *events.Bus) Option {
	return func(d *deps) { d.bus = bus }
}

// WithGuard sets the register lock used around submissions.
func WithGuard(guard lock.Guard) Option {
	return func(d *deps) {
		if guard != nil {
			d.guard = guard
		}
	}
}

// WithIdempotency sets the replay guard for submissions.
func WithIdempotency(idem common.Idem) Option {
	return func(d *deps) { d.idem = idem }
}

// WithPriceSaver sets where cashier overrides are saved.
func WithPriceSaver(saver PriceSaver) Option {
	return func(d *deps) { d.saver = saver }
}

// WithClock overrides the clock used for rate snapshots.
func WithClock(now func() time.Time) Option {
	return func(d *deps) {
		if now != nil {
			d.now = now
		}
	}
}
