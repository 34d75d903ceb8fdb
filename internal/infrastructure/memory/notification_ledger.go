package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/notification"
)

// NotificationLedger is the in-memory ledger. The (order, kind) uniqueness
// check and the write happen under one lock, giving the compare-and-create
// semantics a unique constraint would.
type NotificationLedger struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Notification
	dedup   map[string]string
	byUser  map[string][]string
	seq     map[string]uint64
	nextSeq uint64
}

func NewNotificationLedger() *NotificationLedger {
	return &NotificationLedger{
		byID:   make(map[string]*domain.Notification),
		dedup:  make(map[string]string),
		byUser: make(map[string][]string),
		seq:    make(map[string]uint64),
	}
}

func dedupKey(orderID string, kind domain.Kind) string {
	return orderID + "|" + string(kind)
}

func (l *NotificationLedger) Create(ctx context.Context, n *domain.Notification) error {
	_ = ctx
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification ledger: id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := dedupKey(n.OrderID, n.Kind)
	if _, exists := l.dedup[key]; exists {
		return domain.ErrDuplicate
	}

	l.dedup[key] = n.ID
	l.byID[n.ID] = n.Clone()
	l.byUser[n.RecipientID] = append(l.byUser[n.RecipientID], n.ID)
	l.nextSeq++
	l.seq[n.ID] = l.nextSeq
	return nil
}

func (l *NotificationLedger) Get(ctx context.Context, id string) (*domain.Notification, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return n.Clone(), nil
}

func (l *NotificationLedger) MarkRead(ctx context.Context, id string) error {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Read = true
	return nil
}

func (l *NotificationLedger) ListForUser(ctx context.Context, userID string) ([]*domain.Notification, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byUser[userID]
	out := make([]*domain.Notification, 0, len(ids))
	for _, id := range ids {
		if n, ok := l.byID[id]; ok {
			out = append(out, n.Clone())
		}
	}
	// Newest first; the insertion sequence breaks creation-time ties so the
	// ordering is stable across calls.
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return l.seq[out[a].ID] > l.seq[out[b].ID]
	})
	return out, nil
}
