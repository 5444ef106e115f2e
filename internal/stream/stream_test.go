package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etiasassist.app/internal/application"
	"etiasassist.app/internal/payment"
	"etiasassist.app/internal/store/memory"
	"etiasassist.app/internal/stream"
)

var at = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func receive(t *testing.T, ch <-chan stream.StatusEvent) stream.StatusEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		require.FailNow(t, "no event received")
		return stream.StatusEvent{}
	}
}

func assertQuiet(t *testing.T, ch <-chan stream.StatusEvent) {
	t.Helper()
	select {
	case evt := <-ch:
		require.FailNowf(t, "unexpected event", "%+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubRoutesByUser(t *testing.T) {
	hub := stream.New()
	ctx, cancel := context.WithCancel(context.Background())
	alice := hub.Subscribe(ctx, "alice")
	bob := hub.Subscribe(ctx, "bob")

	hub.Publish(stream.StatusEvent{Kind: stream.KindApplication, UserID: "alice", ApplicationID: "a1", Status: "draft"})
	evt := receive(t, alice)
	assert.Equal(t, "a1", evt.ApplicationID)
	assert.False(t, evt.Timestamp.IsZero())
	assertQuiet(t, bob)

	hub.Publish(stream.StatusEvent{ApplicationID: "anon"})
	assertQuiet(t, alice)

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers("alice") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-alice
	assert.False(t, open)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := stream.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "u")

	for i := 0; i < 100; i++ {
		hub.Publish(stream.StatusEvent{UserID: "u", Status: "draft"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestApplicationStorePublishesOnlyOnChange(t *testing.T) {
	mem := memory.New()
	hub := stream.New()
	store := stream.WatchApplications(mem, hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "u1")

	app := application.Application{ID: "app-1", UserID: "u1", Status: application.StatusDraft, CurrentStep: 1,
		CompletedSteps: application.StepSet{}, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, mem.CreateApplication(ctx, app))

	changed, err := store.AdvanceStatus(ctx, "app-1", application.StatusPaymentPending, at)
	require.NoError(t, err)
	require.True(t, changed)
	evt := receive(t, ch)
	assert.Equal(t, stream.KindApplication, evt.Kind)
	assert.Equal(t, "payment_pending", evt.Status)

	changed, err = store.AdvanceStatus(ctx, "app-1", application.StatusDraft, at)
	require.NoError(t, err)
	require.False(t, changed)
	assertQuiet(t, ch)
}

func TestPaymentStorePublishesTransitions(t *testing.T) {
	mem := memory.New()
	hub := stream.New()
	store := stream.WatchPayments(mem, hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "u1")

	require.NoError(t, mem.CreatePayment(ctx, payment.Payment{ID: "pay-1", ApplicationID: "app-1", UserID: "u1",
		Amount: 1900, Currency: "eur", Status: payment.StatusPending, CreatedAt: at, UpdatedAt: at}))

	changed, err := store.TransitionPayment(ctx, "pay-1", payment.Transition{To: payment.StatusSucceeded, At: at})
	require.NoError(t, err)
	require.True(t, changed)
	evt := receive(t, ch)
	assert.Equal(t, stream.KindPayment, evt.Kind)
	assert.Equal(t, "pay-1", evt.PaymentID)
	assert.Equal(t, "succeeded", evt.Status)

	changed, err = store.TransitionPayment(ctx, "pay-1", payment.Transition{To: payment.StatusFailed, At: at})
	require.NoError(t, err)
	require.False(t, changed)
	assertQuiet(t, ch)
}
