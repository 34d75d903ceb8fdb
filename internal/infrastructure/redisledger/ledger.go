// Package redisledger backs the notification ledger with Redis. Uniqueness
// of the (order, kind) pair rides on SETNX, which gives the same atomic
// compare-and-create the in-memory ledger implements with a lock.
package redisledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/notification"
	"github.com/redis/go-redis/v9"
)

type Ledger struct {
	client *redis.Client
	prefix string
}

func New(addr, serviceName string) *Ledger {
	return &Ledger{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: serviceName,
	}
}

// NewWithClient is used by deployments that share one client across stores.
func NewWithClient(client *redis.Client, serviceName string) *Ledger {
	return &Ledger{client: client, prefix: serviceName}
}

func (l *Ledger) dedupKey(orderID string, kind domain.Kind) string {
	return fmt.Sprintf("%s:notif:dedup:%s:%s", l.prefix, orderID, kind)
}

func (l *Ledger) recordKey(id string) string {
	return fmt.Sprintf("%s:notif:rec:%s", l.prefix, id)
}

func (l *Ledger) userKey(userID string) string {
	return fmt.Sprintf("%s:notif:user:%s", l.prefix, userID)
}

func (l *Ledger) Create(ctx context.Context, n *domain.Notification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("redis ledger: id is required")
	}

	// The dedup key is the uniqueness constraint; only the winner of SETNX
	// proceeds to write the record and index entries.
	ok, err := l.client.SetNX(ctx, l.dedupKey(n.OrderID, n.Kind), n.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("redis ledger: dedup: %w", err)
	}
	if !ok {
		return domain.ErrDuplicate
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redis ledger: encode: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.Set(ctx, l.recordKey(n.ID), payload, 0)
	pipe.LPush(ctx, l.userKey(n.RecipientID), n.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ledger: write: %w", err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*domain.Notification, error) {
	raw, err := l.client.Get(ctx, l.recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis ledger: get: %w", err)
	}

	var n domain.Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return nil, fmt.Errorf("redis ledger: decode: %w", err)
	}
	return &n, nil
}

func (l *Ledger) MarkRead(ctx context.Context, id string) error {
	n, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Read {
		return nil
	}
	n.Read = true

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redis ledger: encode: %w", err)
	}
	if err := l.client.Set(ctx, l.recordKey(id), payload, 0).Err(); err != nil {
		return fmt.Errorf("redis ledger: write: %w", err)
	}
	return nil
}

func (l *Ledger) ListForUser(ctx context.Context, userID string) ([]*domain.Notification, error) {
	ids, err := l.client.LRange(ctx, l.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ledger: list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.recordKey(id)
	}
	rows, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ledger: fetch: %w", err)
	}

	// LPUSH on create means the list is already newest first.
	out := make([]*domain.Notification, 0, len(rows))
	for _, row := range rows {
		raw, ok := row.(string)
		if !ok {
			continue
		}
		var n domain.Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}
