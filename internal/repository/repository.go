package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Load when no record exists for a key.
var ErrNotFound = errors.New("state record not found")

// StateStore is the durable key-value port the session managers persist
// through. Implementations must be safe for concurrent use.
type StateStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// LoadJSON restores the record under key into v. Missing and corrupt
// records are treated as empty: the failure is logged and false returned.
func LoadJSON(ctx context.Context, store StateStore, logger zerolog.Logger, key string, v any) bool {
	if store == nil {
		return false
	}

	data, err := store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn().Err(err).Str("key", key).Msg("Failed to load session state")
		}
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Ignoring corrupt session state")
		return false
	}

	return true
}

// SaveJSON persists v under key. Persistence is advisory: failures are
// logged and reported but callers are free to ignore them.
func SaveJSON(ctx context.Context, store StateStore, logger zerolog.Logger, key string, v any) error {
	if store == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Failed to encode session state")
		return err
	}

	if err := store.Save(ctx, key, data); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Failed to save session state")
		return err
	}

	return nil
}

// Key namespaces a record name so independent sessions never collide.
func Key(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + ":" + name
}
