package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	kafkago "github.com/segmentio/kafka-go"
)

const testSignature = "sig-ok"

type fakeProcessor struct {
	mu       sync.Mutex
	requests []CheckoutRequest
	next     int
	err      error
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return CheckoutSession{}, f.err
	}
	f.next++
	id := fmt.Sprintf("cs_test_%d", f.next)
	return CheckoutSession{ID: id, URL: "https://pay.example.com/" + id}, nil
}

func (f *fakeProcessor) ParseEvent(payload []byte, signature string) (PaymentEvent, error) {
	if signature != testSignature {
		return PaymentEvent{}, ErrInvalidSignature
	}
	var raw struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Session string `json:"session"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ev := PaymentEvent{ID: raw.ID, Type: raw.Type, SessionID: raw.Session}
	if raw.Type == "checkout.session.completed" {
		ev.Kind = EventCheckoutCompleted
	}
	return ev, nil
}

func (f *fakeProcessor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func completedEvent(eventID, sessionID string) []byte {
	b, _ := json.Marshal(map[string]string{
		"id": eventID, "type": "checkout.session.completed", "session": sessionID,
	})
	return b
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *memDedup) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.seen[id], nil
}

func (d *memDedup) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (p *recordingPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
}

// failingLedger wraps a ledger and fails MarkPaid.
type failingLedger struct {
	Ledger
}

func (failingLedger) MarkPaid(context.Context, string) (PaymentResult, error) {
	return PaymentResult{}, errors.New("connection reset")
}
