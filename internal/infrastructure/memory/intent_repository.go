package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/payment"
)

// IntentRepository keeps payment intents in memory with the same contract a
// durable store would offer: a unique active-intent-per-order constraint on
// insert and compare-and-swap on status for updates.
type IntentRepository struct {
	mu            sync.RWMutex
	intents       map[string]*domain.Intent
	activeByOrder map[string]string
}

func NewIntentRepository() *IntentRepository {
	return &IntentRepository{
		intents:       make(map[string]*domain.Intent),
		activeByOrder: make(map[string]string),
	}
}

func (r *IntentRepository) Insert(ctx context.Context, intent *domain.Intent) error {
	_ = ctx
	if intent == nil || intent.ID == "" {
		return fmt.Errorf("intent repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.intents[intent.ID]; exists {
		return domain.ErrActiveIntentExists
	}
	if activeID, exists := r.activeByOrder[intent.OrderID]; exists {
		if existing, ok := r.intents[activeID]; ok && existing.Active() {
			return domain.ErrActiveIntentExists
		}
	}

	r.intents[intent.ID] = intent.Clone()
	if intent.Active() {
		r.activeByOrder[intent.OrderID] = intent.ID
	}
	return nil
}

func (r *IntentRepository) Get(ctx context.Context, id string) (*domain.Intent, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return intent.Clone(), nil
}

func (r *IntentRepository) FindActiveByOrder(ctx context.Context, orderID string) (*domain.Intent, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.activeByOrder[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	intent, ok := r.intents[id]
	if !ok || !intent.Active() {
		return nil, domain.ErrNotFound
	}
	return intent.Clone(), nil
}

func (r *IntentRepository) Update(ctx context.Context, intent *domain.Intent, expected domain.Status) error {
	_ = ctx
	if intent == nil || intent.ID == "" {
		return fmt.Errorf("intent repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.intents[intent.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Status != expected {
		return domain.ErrStaleIntent
	}

	r.intents[intent.ID] = intent.Clone()
	if intent.Terminal() {
		if r.activeByOrder[intent.OrderID] == intent.ID {
			delete(r.activeByOrder, intent.OrderID)
		}
	} else {
		r.activeByOrder[intent.OrderID] = intent.ID
	}
	return nil
}
