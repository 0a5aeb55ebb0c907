package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joshuarp/inference-api/internal/shared/kv"
)

var _ Ledger = (*KVLedger)(nil)

// KVLedger is a Ledger backed by the shared key-value store.
type KVLedger struct {
	store  kv.Store
	prefix string
}

// KVLedgerOption configures the ledger.
type KVLedgerOption func(*KVLedger)

// WithPrefix sets a prefix for all idempotency keys.
func WithPrefix(prefix string) KVLedgerOption {
	return func(l *KVLedger) {
		l.prefix = prefix
	}
}

// NewKVLedger creates a KV-backed idempotency ledger.
func NewKVLedger(store kv.Store, opts ...KVLedgerOption) *KVLedger {
	l := &KVLedger{
		store:  store,
		prefix: "idem",
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *KVLedger) CheckReplay(ctx context.Context, token string) ([]byte, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, errors.New("idempotency: ledger is not initialized")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false, errors.New("idempotency: token is required")
	}

	payload, found, err := l.store.Get(ctx, l.prefix+":"+token)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: replay check failed: %w", err)
	}
	return payload, found, nil
}

func (l *KVLedger) Record(ctx context.Context, token string, payload []byte, ttl time.Duration) error {
	if l == nil || l.store == nil {
		return errors.New("idempotency: ledger is not initialized")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("idempotency: token is required")
	}

	if err := l.store.SetWithTTL(ctx, l.prefix+":"+token, payload, ttl); err != nil {
		return fmt.Errorf("idempotency: record failed: %w", err)
	}
	return nil
}
