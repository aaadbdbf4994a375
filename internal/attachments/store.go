package attachments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Store persists attachment bytes and returns a reference usable as
// Message.Image.
type Store interface {
	Upload(ctx context.Context, d *Decoded) (string, error)
	// Delete removes the attachment behind a reference returned by Upload.
	// Deleting an unknown reference is not an error.
	Delete(ctx context.Context, ref string) error
}

// Blob is a stored attachment.
type Blob struct {
	ID        string
	MIME      string
	Data      []byte
	CreatedAt time.Time
}

// BadgerStore keeps attachments in an embedded Badger database. Keys:
//
//	att:<id>:meta  -> "<mime>\n<unix seconds>"
//	att:<id>:data  -> raw bytes
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

// OpenBadger opens (or creates) a Badger database at path.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return db, nil
}

// NewBadgerStore returns a store whose references look like
// <publicPrefix>/attachments/<id>, e.g. /api/v1/attachments/<id>.
func NewBadgerStore(db *badger.DB, publicPrefix string) *BadgerStore {
	return &BadgerStore{db: db, prefix: strings.TrimRight(publicPrefix, "/")}
}

// Upload writes d under a new ID and returns its reference.
func (s *BadgerStore) Upload(ctx context.Context, d *Decoded) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	meta := fmt.Sprintf("%s\n%d", d.MIME, time.Now().UTC().Unix())
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey(id), []byte(meta)); err != nil {
			return err
		}
		return txn.Set(dataKey(id), d.Data)
	})
	if err != nil {
		return "", fmt.Errorf("store attachment: %w", err)
	}
	return s.prefix + "/attachments/" + id, nil
}

// Delete removes both keys of the attachment that ref points to.
func (s *BadgerStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, id, ok := strings.Cut(ref, "/attachments/")
	if !ok {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(metaKey(id)); err != nil {
			return err
		}
		return txn.Delete(dataKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

// Get loads the attachment with the given ID.
func (s *BadgerStore) Get(ctx context.Context, id string) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	b := &Blob{ID: id}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			mime, ts, _ := strings.Cut(string(val), "\n")
			b.MIME = mime
			var sec int64
			_, _ = fmt.Sscan(ts, &sec)
			b.CreatedAt = time.Unix(sec, 0).UTC()
			return nil
		}); err != nil {
			return err
		}
		item, err = txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		b.Data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load attachment: %w", err)
	}
	return b, nil
}

func metaKey(id string) []byte { return []byte("att:" + id + ":meta") }
func dataKey(id string) []byte { return []byte("att:" + id + ":data") }
