package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"selfcare/internal/kvstore"
)

var ErrEmptyPushToken = errors.New("push token is required")

// Registrar keeps the device push token the platform handed out.
type Registrar struct {
	store kvstore.Store
	log   zerolog.Logger
}

func NewRegistrar(store kvstore.Store, logger zerolog.Logger) *Registrar {
	return &Registrar{store: store, log: logger.With().Str("component", "notify").Logger()}
}

func (r *Registrar) Register(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyPushToken
	}
	if err := r.store.Set(ctx, kvstore.KeyPushToken, token); err != nil {
		r.log.Warn().Err(err).Msg("persist push token")
		return err
	}
	r.log.Info().Msg("push token registered")
	return nil
}

func (r *Registrar) Token(ctx context.Context) (string, bool, error) {
	return r.store.Get(ctx, kvstore.KeyPushToken)
}
