package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitStoresAndNotifies(t *testing.T) {
	journal := &events.Journal{}
	notifier := &captureNotifier{}
	bus := &events.Bus{Store: journal, Notifiers: []events.Notifier{notifier}}

	ev, err := bus.Emit(context.Background(), events.TopicSaleSubmitted, "sale-1", map[string]any{"orderId": "123"})
	require.NoError(t, err)
	require.JSONEq(t, `{"orderId":"123"}`, string(ev.Payload))
	require.Len(t, journal.Events(events.TopicSaleSubmitted), 1)
	require.Empty(t, journal.Events(events.TopicReturnSubmitted))
	require.Len(t, notifier.events, 1)
	require.Equal(t, ev.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &decoded))
	require.Equal(t, "123", decoded["orderId"])
}

func TestEmitValidation(t *testing.T) {
	bus := &events.Bus{}
	ctx := context.Background()

	_, err := bus.Emit(ctx, " ", "a", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicSaleFailed, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicSaleFailed, "a", "{not json")
	require.Error(t, err)

	ev, err := bus.Emit(ctx, events.TopicSaleFailed, "a", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(ev.Payload))

	var nilBus *events.Bus
	_, err = nilBus.Emit(ctx, events.TopicSaleFailed, "a", nil)
	require.NoError(t, err)
}

func TestNotifierErrorsAreJoined(t *testing.T) {
	boom := errors.New("boom")
	bus := &events.Bus{Notifiers: []events.Notifier{&captureNotifier{err: boom}, &captureNotifier{}}}
	ev, err := bus.Emit(context.Background(), events.TopicReturnSubmitted, "r-1", nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, events.TopicReturnSubmitted, ev.Topic)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	bus := &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: zerolog.New(&buf)}}}
	_, err := bus.Emit(context.Background(), events.TopicSpecialPriceSaved, "cust-1", map[string]string{"productId": "p"})
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"topic":"special_price.saved"`)
	require.Contains(t, buf.String(), `"productId":"p"`)
}
