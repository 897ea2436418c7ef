// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package db

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxTxAttempts = 5

// PostgreSQL error codes worth retrying the whole transaction for.
var transientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// IsTransient reports whether err is a PostgreSQL error that a retried transaction may avoid.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := transientCodes[pgErr.Code]
		return ok
	}
	return false
}

// WithRetry runs fn in a transaction, retrying with exponential backoff while it fails
// with a transient error. Nested calls join the outer transaction and are not retried.
func WithRetry(ctx context.Context, d DBClientInterface, fn func(context.Context) error) error {
	if lazyTxFromContext(ctx) != nil {
		return fn(ctx)
	}

	_, err := backoff.Retry(
		ctx,
		func() (struct{}, error) {
			err := d.WithTx(ctx, fn)
			if err != nil && !IsTransient(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTxAttempts),
	)

	return err
}
