package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// Advisory lock classes. Two-key locks keep the gate and the patient key spaces apart.
const (
	lockClassGate    = 1
	lockClassPatient = 2
)

const (
	lockGateShared    = `SELECT pg_advisory_xact_lock_shared($1, 0)`
	lockGateExclusive = `SELECT pg_advisory_xact_lock($1, 0)`
	lockPatient       = `SELECT pg_advisory_xact_lock($1, hashtext($2::text))`
)

// Store implements repository.Store on PostgreSQL. Critical sections are
// transaction-scoped advisory locks, released on commit or rollback.
type Store struct{ db *DB }

var _ repository.Store = (*Store)(nil)

// NewStore constructs a store over db.
func NewStore(db *DB) *Store { return &Store{db: db} }

// UpdatePatient runs fn holding the gate shared and the patient's lock exclusively.
func (s *Store) UpdatePatient(ctx context.Context, patient model.Identity, fn func(repository.Tx) error) error {
	return s.inTx(ctx, pgx.TxOptions{}, func(q pgx.Tx) error {
		if _, err := q.Exec(ctx, lockGateShared, lockClassGate); err != nil {
			return fmt.Errorf("lock gate: %w", err)
		}
		if _, err := q.Exec(ctx, lockPatient, lockClassPatient, patient); err != nil {
			return fmt.Errorf("lock patient: %w", err)
		}
		return fn(&tx{q: q})
	})
}

// UpdateGlobal runs fn holding the gate exclusively.
func (s *Store) UpdateGlobal(ctx context.Context, fn func(repository.Tx) error) error {
	return s.inTx(ctx, pgx.TxOptions{}, func(q pgx.Tx) error {
		if _, err := q.Exec(ctx, lockGateExclusive, lockClassGate); err != nil {
			return fmt.Errorf("lock gate: %w", err)
		}
		return fn(&tx{q: q})
	})
}

// View runs fn in a read-only repeatable-read transaction so all reads share one snapshot.
func (s *Store) View(ctx context.Context, fn func(repository.Reader) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return s.inTx(ctx, opts, func(q pgx.Tx) error { return fn(&tx{q: q}) })
}

func (s *Store) inTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) (err error) {
	q, err := s.db.Pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = q.Rollback(ctx)
			return
		}
		if e := q.Commit(ctx); e != nil {
			err = e
		}
	}()
	return fn(q)
}
