package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Local keeps values in process memory. It is used when no Redis URL is
// configured.
type Local struct {
	store *gocache.Cache
}

func NewLocal(ttl time.Duration) *Local {
	ttl = ttlOrDefault(ttl)
	return &Local{store: gocache.New(ttl, 2*ttl)}
}

func (l *Local) Get(_ context.Context, key string, dst any) error {
	v, ok := l.store.Get(key)
	if !ok {
		return ErrMiss
	}
	data, _ := v.([]byte)
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

func (l *Local) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	l.store.SetDefault(key, data)
	return nil
}

func (l *Local) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		l.store.Delete(k)
	}
	return nil
}
