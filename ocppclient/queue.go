package ocppclient

import (
	"fmt"
	"time"
)

// PendingRequest is an outbound CALL still waiting for its CALLRESULT or CALLERROR.
type PendingRequest struct {
	MessageID  string      `json:"messageId"`
	Action     string      `json:"action"`
	Payload    interface{} `json:"payload,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

// CorrelationQueue tracks in-flight requests keyed by message id.
// It is not safe for concurrent use; the Dispatcher serializes access.
type CorrelationQueue struct {
	order   []string
	entries map[string]PendingRequest
	now     func() time.Time
}

func NewCorrelationQueue(now func() time.Time) *CorrelationQueue {
	if now == nil {
		now = time.Now
	}
	return &CorrelationQueue{
		entries: map[string]PendingRequest{},
		now:     now,
	}
}

// Enqueue records a pending request. A message id that is already pending is
// rejected with ErrDuplicateKey and the existing entry is left untouched.
func (q *CorrelationQueue) Enqueue(messageID string, action string, payload interface{}) error {
	if _, exists := q.entries[messageID]; exists {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, messageID)
	}
	q.entries[messageID] = PendingRequest{
		MessageID:  messageID,
		Action:     action,
		Payload:    payload,
		EnqueuedAt: q.now(),
	}
	q.order = append(q.order, messageID)
	return nil
}

// Resolve removes and returns the request registered under messageID.
func (q *CorrelationQueue) Resolve(messageID string) (PendingRequest, error) {
	req, exists := q.entries[messageID]
	if !exists {
		return PendingRequest{}, fmt.Errorf("%w: %v", ErrNotFound, messageID)
	}
	delete(q.entries, messageID)
	for i, id := range q.order {
		if id == messageID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return req, nil
}

// Pending returns the outstanding requests in enqueue order.
func (q *CorrelationQueue) Pending() []PendingRequest {
	pending := make([]PendingRequest, 0, len(q.order))
	for _, id := range q.order {
		pending = append(pending, q.entries[id])
	}
	return pending
}

func (q *CorrelationQueue) Len() int {
	return len(q.order)
}
