// Package blob holds paste bodies. Keys are namespaced by token as
// "pastes/<token>.txt" inside a single bucket.
package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("content not found")

type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

func OpenBolt(path, bucket string) (*Bolt, error) {
	if bucket == "" {
		return nil, errors.New("bucket name required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "create bucket %s", bucket)
	}
	return &Bolt{db: db, bucket: []byte(bucket)}, nil
}

func ObjectKey(token string) []byte {
	return []byte(fmt.Sprintf("pastes/%s.txt", token))
}

func (b *Bolt) Put(ctx context.Context, token string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put(ObjectKey(token), data)
	})
	return errors.Wrapf(err, "put content %s", token)
}

// Get returns a copy of the stored bytes; bolt values are only valid inside
// the transaction.
func (b *Bolt) Get(ctx context.Context, token string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get(ObjectKey(token))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the content for token. Missing keys are not an error.
func (b *Bolt) Delete(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete(ObjectKey(token))
	})
	return errors.Wrapf(err, "delete content %s", token)
}
func (b *Bolt) Exists(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(b.bucket).Get(ObjectKey(token)) != nil
		return nil
	})
	return ok, err
}
func (b *Bolt) Size(ctx context.Context, token string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get(ObjectKey(token))
		if v == nil {
			return ErrNotFound
		}
		n = int64(len(v))
		return nil
	})
	return n, err
}
func (b *Bolt) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(b.bucket) == nil {
			return errors.New("content bucket missing")
		}
		return nil
	})
}
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
