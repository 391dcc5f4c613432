package common_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

func TestFromErrorMapsDomainErrors(t *testing.T) {
	err := fmt.Errorf("add line: %w", settlement.ErrOverReturn)
	app := common.FromError(err)
	require.Equal(t, common.CodeOverReturn, app.Code)
	require.Equal(t, http.StatusUnprocessableEntity, app.HTTPStatus)
	require.ErrorIs(t, app, settlement.ErrOverReturn)

	require.Equal(t, common.CodeInvalidUnit, common.CodeOf(pricing.ErrInvalidUnit))
	require.Equal(t, common.CodeInternal, common.CodeOf(errors.New("boom")))
	require.Empty(t, common.CodeOf(nil))

	backend := common.NewAppError(common.CodeBackend, "customer is blocked", http.StatusBadRequest, nil)
	require.Same(t, backend, common.FromError(fmt.Errorf("submit: %w", backend)))
	require.Equal(t, "customer is blocked", backend.Error())
	require.True(t, common.IsAppError(fmt.Errorf("x: %w", backend)))
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	a := common.IdempotencyKey("reg-1", `{"a":1}`)
	require.Equal(t, a, common.IdempotencyKey("reg-1", `{"a":1}`))
	require.NotEqual(t, a, common.IdempotencyKey("reg-1", `{"a":2}`))
	require.Len(t, a, 64)
}

func TestIdemClaimLifecycle(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	idem := common.Idem{R: client, TTL: time.Minute}
	ctx := context.Background()

	require.NoError(t, idem.Claim(ctx, "k1"))
	require.ErrorIs(t, idem.Claim(ctx, "k1"), common.ErrDuplicateSubmission)
	require.NoError(t, idem.Release(ctx, "k1"))
	require.NoError(t, idem.Claim(ctx, "k1"))
	require.NoError(t, idem.Complete(ctx, "k1", "order-9"))
	got, err := mr.Get("idem:k1")
	require.NoError(t, err)
	require.Equal(t, "order-9", got)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, idem.Claim(ctx, "k1"))

	require.NoError(t, common.Idem{}.Claim(ctx, "k1"))
}
