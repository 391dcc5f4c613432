package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/events"
	"github.com/noah-isme/pos-settlement/internal/lock"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/payment"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

var tracer = otel.Tracer("github.com/noah-isme/pos-settlement/internal/checkout")

// Submit settles the cart and sends it to the backend while holding the
// register lock. On success the cart is cleared, unless it was already reset
// while the request was in flight. On failure the cart is left untouched so
// the operator can retry, and the error carries the backend's message.
func (s *Session) Submit(ctx context.Context, submitter SaleSubmitter, pt settlement.PaymentType, tenders []payment.Tender) (Receipt, SalePayload, error) {
	if submitter == nil {
		return Receipt{}, SalePayload{}, errors.New("checkout: sale submitter not configured")
	}
	s.mu.Lock()
	payload, _, gen, err := s.buildLocked(ctx, pt, tenders)
	txn := s.txn
	s.mu.Unlock()
	if err != nil {
		return Receipt{}, SalePayload{}, err
	}

	fp := payload
	fp.ExchangeRateSnapshotJSON = ""
	receipt, err := submitOnce(ctx, s.deps, s.settings, "sale", txn, fp, func(ctx context.Context, key string) (Receipt, error) {
		return submitter.SubmitSale(ctx, key, payload)
	})
	aggregate := payload.CustomerID
	if aggregate == "" {
		aggregate = s.settings.RegisterID
	}
	logger := obs.LoggerFor(ctx, s.deps.logger)
	if err != nil {
		emit(ctx, s.deps.bus, logger, events.TopicSaleFailed, aggregate, map[string]any{
			"error": err.Error(),
			"code":  common.CodeOf(err),
		})
		return Receipt{}, payload, err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.resetLocked()
	}
	s.mu.Unlock()
	emit(ctx, s.deps.bus, logger, events.TopicSaleSubmitted, aggregate, map[string]any{
		"receipt":     receipt,
		"paymentType": payload.PaymentType,
		"totalAmount": payload.TotalAmount,
		"paidAmount":  payload.PaidAmount,
		"debtAmount":  payload.DebtAmount,
	})
	return receipt, payload, nil
}

// submitOnce runs send under the register lock with an idempotency key
// derived from the transaction id and fingerprint, so retrying an unchanged transaction reuses the
// key. The fingerprint leaves out the rate snapshot, whose timestamp changes
// on every attempt.
func submitOnce[P any](ctx context.Context, d deps, settings Settings, kind, txn string, fingerprint P, send func(context.Context, string) (Receipt, error)) (Receipt, error) {
	ctx, span := tracer.Start(ctx, "checkout.submit_"+kind)
	defer span.End()
	span.SetAttributes(attribute.String("pos.register_id", settings.RegisterID), attribute.String("pos.kind", kind))

	body, err := json.Marshal(fingerprint)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	key := common.IdempotencyKey(settings.RegisterID, kind, txn, string(body))
	logger := obs.LoggerFor(ctx, d.logger).With().Str("kind", kind).Str("idempotency_key", key).Logger()

	start := time.Now()
	var receipt Receipt
	err = d.guard.TryLock(ctx, lock.RegisterKey(settings.RegisterID), settings.SubmitLockTTL, func(ctx context.Context) error {
		if err := d.idem.Claim(ctx, key); err != nil {
			if errors.Is(err, common.ErrDuplicateSubmission) {
				return common.NewAppError(common.CodeDuplicateSubmission, "this transaction was already submitted", http.StatusConflict, err)
			}
			return err
		}
		r, err := send(ctx, key)
		if err != nil {
			if relErr := d.idem.Release(ctx, key); relErr != nil {
				logger.Warn().Err(relErr).Msg("idempotency_release_failed")
			}
			return err
		}
		if err := d.idem.Complete(ctx, key, r.ID); err != nil {
			logger.Warn().Err(err).Msg("idempotency_complete_failed")
		}
		receipt = r
		return nil
	})
	if errors.Is(err, lock.ErrHeld) {
		err = common.NewAppError(common.CodeRegisterBusy, "another submission is in progress at this register", http.StatusConflict, err)
	}
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("code", common.CodeOf(err)).Msg("submission_failed")
	} else {
		logger.Info().Str("receipt_id", receipt.ID).Msg(kind + "_submitted")
	}
	obs.ObserveSubmission(kind, result, obs.DurationMillis(time.Since(start)))
	return receipt, err
}

func emit(ctx context.Context, bus *events.Bus, logger zerolog.Logger, topic, aggregateID string, payload any) {
	if bus == nil {
		return
	}
	if _, err := bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		logger.Warn().Err(err).Str("topic", topic).Msg("event_emit_failed")
	}
}
