package nativehost

import (
	"context"
	"sort"
	"sync"

	"github.com/caffeineduck/opcore/dispatch"
)

const (
	DefaultKVMaxKeySize   = 256
	DefaultKVMaxValueSize = 64 * 1024
	DefaultKVMaxEntries   = 10000
)

// KVConfig limits a KV store.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

// DefaultKVConfig returns the default limits.
func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultKVMaxKeySize,
		MaxValueSize: DefaultKVMaxValueSize,
		MaxEntries:   DefaultKVMaxEntries,
	}
}

// KV is an in-memory string store backing the op_kv_* ops. One store may be
// shared between hosts.
type KV struct {
	cfg  KVConfig
	data map[string]string
	mu   sync.RWMutex
}

// NewKV creates an empty store. Zero limits take their defaults.
func NewKV(cfg KVConfig) *KV {
	def := DefaultKVConfig()
	if cfg.MaxKeySize <= 0 {
		cfg.MaxKeySize = def.MaxKeySize
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &KV{cfg: cfg, data: make(map[string]string)}
}

func (s *KV) key(args map[string]any) (string, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return "", err
	}
	if len(key) > s.cfg.MaxKeySize {
		return "", invalidArg("key exceeds max size")
	}
	return key, nil
}

// Get returns the value for key, the "default" argument, or null.
func (s *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return args["default"], nil
	}
	return val, nil
}

// Set stores value under key.
func (s *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}
	val, err := stringArg(args, "value")
	if err != nil {
		return nil, err
	}
	if len(val) > s.cfg.MaxValueSize {
		return nil, invalidArg("value exceeds max size")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && len(s.data) >= s.cfg.MaxEntries {
		return nil, dispatch.NewOpError(dispatch.Busy, "kv store full")
	}
	s.data[key] = val
	return "ok", nil
}

// Delete removes key.
func (s *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

// Keys returns every key in sorted order.
func (s *KV) Keys(ctx context.Context, args map[string]any) (any, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
