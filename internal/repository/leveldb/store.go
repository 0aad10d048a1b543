// Package leveldb is the embedded single-node Store backend on goleveldb.
//
// Values are JSON; keys are "<prefix>_" plus raw identity bytes and, where an
// order matters, a big-endian sequence number. Writes run inside a leveldb
// transaction, which already excludes every other writer, so patient and global
// scopes share one path. Reads use a snapshot.
package leveldb

import (
	"context"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// Store implements repository.Store on a goleveldb database.
type Store struct{ db *leveldb.DB }

var _ repository.Store = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a volatile database, used by tests and dev runs.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// UpdatePatient runs fn in an exclusive transaction.
func (s *Store) UpdatePatient(ctx context.Context, _ model.Identity, fn func(repository.Tx) error) error {
	return s.update(ctx, fn)
}

// UpdateGlobal runs fn in an exclusive transaction.
func (s *Store) UpdateGlobal(ctx context.Context, fn func(repository.Tx) error) error {
	return s.update(ctx, fn)
}

// View runs fn against a snapshot.
func (s *Store) View(ctx context.Context, fn func(repository.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	return fn(&view{r: snap})
}

func (s *Store) update(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("open transaction: %w", err)
	}
	if err := fn(&tx{view: view{r: tr}, tr: tr}); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
