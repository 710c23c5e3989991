// Package kv persists JSON values under string keys with application
// defaults for missing keys.
package kv

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpaction-cli/internal/store"
)

// Backend is the subset of store.Store that kv needs.
type Backend interface {
	GetValue(ctx context.Context, key string) ([]byte, error)
	SetValue(ctx context.Context, key string, value []byte) error
}

// Get returns the value stored under key decoded as T, or def when the key
// has never been written.
func Get[T any](ctx context.Context, b Backend, key string, def T) (T, error) {
	raw, err := b.GetValue(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, eris.Wrapf(err, "kv: get %s", key)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, eris.Wrapf(err, "kv: decode %s", key)
	}
	return v, nil
}

// Set stores v under key, replacing any previous value.
func Set[T any](ctx context.Context, b Backend, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "kv: encode %s", key)
	}
	return eris.Wrapf(b.SetValue(ctx, key, raw), "kv: set %s", key)
}
