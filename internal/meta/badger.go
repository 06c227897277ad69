package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"imagesearch/internal/models"
)

// Key layout: records under "img:<id>", a checksum index under
// "sum:<checksum>" holding the record id.
const (
	recordPrefix   = "img:"
	checksumPrefix = "sum:"
)

// Badger is a Store implementation backed by BadgerDB v4. Records are
// stored JSON-encoded. Badger transactions give UpdateStatus its
// compare-and-swap semantics without a separate lock.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode (no disk persistence).
	// Useful for testing with a real badger engine.
	InMemory bool

	// Logger sets the badger logger. If nil, badger output is silenced.
	Logger badger.Logger
}

// NewBadger creates a new BadgerDB-backed metadata store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("meta: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(opts.Logger)
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func recordKey(id string) []byte    { return []byte(recordPrefix + id) }
func checksumKey(sum string) []byte { return []byte(checksumPrefix + sum) }

func encodeRecord(rec *models.ImageRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(data []byte) (*models.ImageRecord, error) {
	var rec models.ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func (b *Badger) Insert(_ context.Context, rec *models.ImageRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(rec.ID)); err == nil {
			return fmt.Errorf("insert %s: id already exists", rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		// The checksum index doubles as a uniqueness constraint; checking
		// it inside the transaction closes the race between two inserts
		// of the same bytes.
		if _, err := txn.Get(checksumKey(rec.Checksum)); err == nil {
			return fmt.Errorf("insert %s: checksum %s: %w", rec.ID, rec.Checksum, models.ErrDuplicateImage)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(recordKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(checksumKey(rec.Checksum), []byte(rec.ID))
	})
}

func (b *Badger) Get(_ context.Context, id string) (*models.ImageRecord, error) {
	var rec *models.ImageRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get %s: %w", id, models.ErrNotFound)
	}
	return rec, err
}

func (b *Badger) FindByChecksum(ctx context.Context, checksum string) (*models.ImageRecord, error) {
	var id string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checksumKey(checksum))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("checksum %s: %w", checksum, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, id)
}

func (b *Badger) UpdateStatus(_ context.Context, id string, from, to models.Status, trashedAt *time.Time) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		var rec *models.ImageRecord
		if err := item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		}); err != nil {
			return err
		}
		if rec.Status != from {
			return fmt.Errorf("update %s: status is %s, expected %s: %w",
				id, rec.Status, from, models.ErrConcurrentModification)
		}
		rec.Status = to
		rec.TrashedAt = trashedAt
		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return txn.Set(recordKey(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("update %s: %w", id, models.ErrNotFound)
	}
	return err
}

func (b *Badger) Delete(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var rec *models.ImageRecord
		if err := item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		}); err != nil {
			return err
		}
		if err := txn.Delete(checksumKey(rec.Checksum)); err != nil {
			return err
		}
		return txn.Delete(recordKey(id))
	})
}

func (b *Badger) List(_ context.Context, f ListFilter) ([]*models.ImageRecord, error) {
	var out []*models.ImageRecord
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(iterOpts.Prefix); it.ValidForPrefix(iterOpts.Prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				if f.Status != "" && rec.Status != f.Status {
					return nil
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})

	return pageRecords(out, f), nil
}

func (b *Badger) Close() error { return b.db.Close() }

var _ Store = (*Badger)(nil)
