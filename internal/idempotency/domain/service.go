package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Lookup returns the stored response for fp.Key, nil when the key is
	// unused, or ErrConflict when the key was used for a different request.
	Lookup(ctx context.Context, fp Fingerprint) (*Record, error)
	Save(ctx context.Context, fp Fingerprint, resp Response) error
	Prune(ctx context.Context) (int64, error)
}

var (
	ErrConflict   = errors.New("idempotency_conflict")
	ErrInFlight   = errors.New("idempotency_in_flight")
	ErrInvalidKey = errors.New("invalid_idempotency_key")
)
