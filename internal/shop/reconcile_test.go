package shop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ariefcatur/go-storefront/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type reconcileFixture struct {
	store    *MemStore
	checkout *Checkout
	rec      *Reconciler
	pub      *recordingPublisher
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	store := NewMemStore()
	store.PutProduct(Product{ID: 1, Name: "Mug", Price: decimal.RequireFromString("10.00"), Stock: 5})
	proc := &fakeProcessor{}
	pub := &recordingPublisher{}
	log := zaptest.NewLogger(t)
	return &reconcileFixture{
		store: store,
		pub:   pub,
		checkout: &Checkout{
			Catalog: store, Ledger: store, Processor: proc, Log: log,
		},
		rec: &Reconciler{
			Processor: proc,
			Ledger:    store,
			Events:    pub,
			Service:   "storefront",
			Log:       log,
			Metrics:   metrics.New(prometheus.NewRegistry()),
		},
	}
}

func (f *reconcileFixture) stock(t *testing.T) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	return p.Stock
}

func (f *reconcileFixture) order(t *testing.T, id int64) Order {
	t.Helper()
	for _, o := range f.store.Orders() {
		if o.ID == id {
			return o
		}
	}
	t.Fatalf("order %d not found", id)
	return Order{}
}

func TestReconcile_PaysOrderAndDecrementsStockOnce(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	st, err := f.checkout.Start(ctx, buyer, 1, 2)
	require.NoError(t, err)
	assert.True(t, st.Order.Amount.Equal(decimal.RequireFromString("20.00")))

	out, err := f.rec.Handle(ctx, completedEvent("evt_1", st.Order.CheckoutSessionID), testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out)

	o := f.order(t, st.Order.ID)
	assert.True(t, o.Paid)
	assert.NotNil(t, o.PaidAt)
	assert.Equal(t, 3, f.stock(t))

	// replay
	out, err = f.rec.Handle(ctx, completedEvent("evt_1", st.Order.CheckoutSessionID), testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, 3, f.stock(t))
	assert.True(t, f.order(t, st.Order.ID).Paid)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.rec.Metrics.Webhooks.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.rec.Metrics.Webhooks.WithLabelValues("duplicate")))
}

func TestReconcile_ConcurrentDuplicatesDecrementOnce(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	st, err := f.checkout.Start(ctx, buyer, 1, 2)
	require.NoError(t, err)
	payload := completedEvent("evt_dup", st.Order.CheckoutSessionID)

	const deliveries = 32
	outcomes := make(chan Outcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.rec.Handle(ctx, payload, testSignature)
			assert.NoError(t, err)
			outcomes <- out
		}()
	}
	wg.Wait()
	close(outcomes)

	paid := 0
	for out := range outcomes {
		if out == OutcomePaid {
			paid++
		} else {
			assert.Equal(t, OutcomeDuplicate, out)
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 3, f.stock(t))
	assert.Len(t, f.pub.msgs, 1)
}

func TestReconcile_StockClampsAtZero(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	st, err := f.checkout.Start(ctx, buyer, 1, 4)
	require.NoError(t, err)
	// another buyer's purchase left less stock than this order needs
	f.store.PutProduct(Product{ID: 1, Name: "Mug", Price: decimal.RequireFromString("10.00"), Stock: 1})

	out, err := f.rec.Handle(ctx, completedEvent("evt_2", st.Order.CheckoutSessionID), testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out)
	assert.Equal(t, 0, f.stock(t))
}

func TestReconcile_UnknownEventTypeIsAcknowledged(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	st, err := f.checkout.Start(ctx, buyer, 1, 1)
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]string{
		"id": "evt_3", "type": "payment_intent.created", "session": st.Order.CheckoutSessionID,
	})
	out, err := f.rec.Handle(ctx, payload, testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.False(t, f.order(t, st.Order.ID).Paid)
	assert.Equal(t, 5, f.stock(t))
	assert.Empty(t, f.pub.msgs)
}

func TestReconcile_InvalidSignatureNeverMutates(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	st, err := f.checkout.Start(ctx, buyer, 1, 1)
	require.NoError(t, err)

	_, err = f.rec.Handle(ctx, completedEvent("evt_4", st.Order.CheckoutSessionID), "t=1,v1=forged")
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.False(t, f.order(t, st.Order.ID).Paid)
	assert.Equal(t, 5, f.stock(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.rec.Metrics.Webhooks.WithLabelValues("rejected")))
}

func TestReconcile_InvalidPayload(t *testing.T) {
	f := newReconcileFixture(t)

	_, err := f.rec.Handle(context.Background(), []byte("{not json"), testSignature)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.rec.Handle(context.Background(), completedEvent("evt_5", ""), testSignature)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestReconcile_UnmatchedSessionIsAcknowledged(t *testing.T) {
	f := newReconcileFixture(t)

	out, err := f.rec.Handle(context.Background(), completedEvent("evt_6", "cs_unknown"), testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, out)
	assert.Equal(t, 5, f.stock(t))
}

func TestReconcile_PublishesOrderPaidEvent(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	st, err := f.checkout.Start(ctx, buyer, 1, 2)
	require.NoError(t, err)
	_, err = f.rec.Handle(ctx, completedEvent("evt_7", st.Order.CheckoutSessionID), testSignature)
	require.NoError(t, err)

	require.Len(t, f.pub.msgs, 1)
	msg := f.pub.msgs[0]
	assert.Equal(t, PartitionKey(st.Order.ID), msg.Key)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, EventOrderPaid, env.EventType)
	assert.Equal(t, "storefront", env.Producer)
	assert.Equal(t, OrderKey(st.Order.ID), env.CorrelationID)

	var p OrderPaidPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, st.Order.ID, p.OrderID)
	assert.Equal(t, "20.00", p.Amount)
	assert.Equal(t, 3, p.RemainingStock)
	assert.Equal(t, "evt_7", p.ProcessorEventID)
}

func TestReconcile_DedupShortCircuitsSeenEvents(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	dedup := &memDedup{}
	f.rec.Dedup = dedup

	st, err := f.checkout.Start(ctx, buyer, 1, 1)
	require.NoError(t, err)
	payload := completedEvent("evt_8", st.Order.CheckoutSessionID)

	out, err := f.rec.Handle(ctx, payload, testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out)
	assert.True(t, dedup.seen["evt_8"])

	out, err = f.rec.Handle(ctx, payload, testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, 4, f.stock(t))
}

func TestReconcile_UnmatchedEventCanPayRestoredOrder(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	dedup := &memDedup{}
	f.rec.Dedup = dedup
	payload := completedEvent("evt_10", "cs_restored")

	out, err := f.rec.Handle(ctx, payload, testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, out)
	assert.False(t, dedup.seen["evt_10"])

	o, err := f.store.CreateOrder(ctx, Order{
		UserID: buyer.UserID, ProductID: 1, Quantity: 2,
		Amount: decimal.RequireFromString("20.00"), CheckoutSessionID: "cs_restored",
	})
	require.NoError(t, err)

	out, err = f.rec.Handle(ctx, payload, testSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out)
	assert.True(t, f.order(t, o.ID).Paid)
	assert.Equal(t, 3, f.stock(t))
	assert.True(t, dedup.seen["evt_10"])
}

func TestMemStore_PaidOrderIsNotPaidAgain(t *testing.T) {
	store := NewMemStore()
	store.PutProduct(Product{ID: 1, Name: "Mug", Price: decimal.RequireFromString("10.00"), Stock: 5})
	ctx := context.Background()
	_, err := store.CreateOrder(ctx, Order{UserID: 1, ProductID: 1, Quantity: 1, Amount: decimal.RequireFromString("10.00"), CheckoutSessionID: "cs_1"})
	require.NoError(t, err)

	first, err := store.MarkPaid(ctx, "cs_1")
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, first.Outcome)
	require.Equal(t, StatusPaid, first.Order.Status())

	again, err := store.MarkPaid(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, again.Outcome)
	assert.Equal(t, first.Order.PaidAt, again.Order.PaidAt)

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Stock)
}

func TestReconcile_LedgerFailureIsNotAcknowledged(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	dedup := &memDedup{}
	f.rec.Dedup = dedup
	f.rec.Ledger = failingLedger{Ledger: f.store}

	_, err := f.rec.Handle(ctx, completedEvent("evt_9", "cs_test_1"), testSignature)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPayload)
	assert.False(t, dedup.seen["evt_9"], "failed events must stay retryable")
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusPaid))
	assert.False(t, CanTransition(StatusPaid, StatusPending))
	assert.False(t, CanTransition(StatusPaid, StatusPaid))
}

func TestClampStock(t *testing.T) {
	assert.Equal(t, 3, clampStock(5, 2))
	assert.Equal(t, 0, clampStock(2, 2))
	assert.Equal(t, 0, clampStock(1, 4))
}
