// Package history archives finished rounds in BadgerDB.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/cloudx-io/cipherbid/core"
)

const roundPrefix = "round/"

var (
	// ErrNotFound is returned by Get for rounds that were never archived.
	ErrNotFound = errors.New("round not archived")
	// ErrAlreadyArchived is returned by ArchiveRound when the round has a record.
	ErrAlreadyArchived = errors.New("round already archived")
)

// Store persists round records, CBOR-encoded under round/<n> keys.
type Store struct {
	db  *badgerdb.DB
	enc cbor.EncMode
	log zerolog.Logger
}

// Open opens a store at dir. An empty dir opens an in-memory store.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "history").Logger()

	var opts badgerdb.Options
	if dir == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		opts = badgerdb.DefaultOptions(dir)
		opts.NumMemtables = 2
		opts.BlockCacheSize = 32 << 20
		opts.IndexCacheSize = 32 << 20
	}
	opts.Logger = badgerLogger{log: log}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	// RFC 3339 with nanoseconds keeps bid timestamps exact across a round trip.
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build CBOR encoder: %w", err)
	}

	log.Info().Str("dir", dir).Bool("in_memory", dir == "").Msg("history store opened")
	return &Store{db: db, enc: enc, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func roundKey(round uint64) []byte {
	// Zero padding keeps badger's byte order equal to round order.
	return []byte(fmt.Sprintf("%s%020d", roundPrefix, round))
}

// ArchiveRound stores record. Records are write-once: archiving a round that is
// already stored fails with ErrAlreadyArchived.
func (s *Store) ArchiveRound(ctx context.Context, record core.RoundRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.enc.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode round %d: %w", record.Round, err)
	}

	key := roundKey(record.Round)
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %d", ErrAlreadyArchived, record.Round)
		case !errors.Is(err, badgerdb.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, ErrAlreadyArchived) {
		s.log.Warn().Uint64("round", record.Round).Msg("refusing to overwrite archived round")
		return err
	}
	if err != nil {
		s.log.Error().Err(err).Uint64("round", record.Round).Msg("failed to archive round")
		return fmt.Errorf("failed to archive round %d: %w", record.Round, err)
	}

	s.log.Info().Uint64("round", record.Round).Uint64("total_bids", record.TotalBids).Bool("claimed", record.Claimed).Msg("round archived")
	return nil
}

// Get returns the record for round.
func (s *Store) Get(round uint64) (*core.RoundRecord, error) {
	var record core.RoundRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(roundKey(round))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, round)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read round %d: %w", round, err)
	}
	return &record, nil
}

// List returns every archived record in round order.
func (s *Store) List() ([]core.RoundRecord, error) {
	records := make([]core.RoundRecord, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(roundPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var record core.RoundRecord
			if err := item.Value(func(val []byte) error {
				return cbor.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", item.Key(), err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LastRound returns the highest archived round number, or 0. A restarted service
// numbers its first round LastRound()+1.
func (s *Store) LastRound() (uint64, error) {
	var last uint64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the greatest key <= the seek key.
		it.Seek([]byte(roundPrefix + "~"))
		if !it.ValidForPrefix([]byte(roundPrefix)) {
			return nil
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(string(it.Item().Key()), roundPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("malformed history key %q: %w", it.Item().Key(), err)
		}
		last = n
		return nil
	})
	return last, err
}

type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
