package kvstore

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendFile   = "file"
	BackendSecure = "secure"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Options struct {
	Backend string
	Path    string
	Redis   RedisOptions
}

// Open builds the store selected by opts.Backend. An empty backend means file.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileStore(opts.Path)
	case BackendSecure:
		return NewSecureStore(opts.Path)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}
