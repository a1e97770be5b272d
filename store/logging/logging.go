// Package logging implements a store.DB that delegates everything to a nested DB,
// logging operations as they happen.
package logging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bobg/lds/store"
)

var _ store.DB = &DB{}

type DB struct {
	db  store.DB
	log logrus.FieldLogger
}

// New wraps db.
// A nil logger means logrus.StandardLogger().
func New(db store.DB, logger logrus.FieldLogger) *DB {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DB{db: db, log: logger.WithField("component", "store")}
}

func (d *DB) View(ctx context.Context, f func(store.Tx) error) error {
	return d.run(ctx, "View", d.db.View, f)
}

func (d *DB) Update(ctx context.Context, f func(store.Tx) error) error {
	return d.run(ctx, "Update", d.db.Update, f)
}

func (d *DB) run(ctx context.Context, kind string, do func(context.Context, func(store.Tx) error) error, f func(store.Tx) error) error {
	start := time.Now()
	err := do(ctx, func(t store.Tx) error {
		return f(&tx{t: t, log: d.log})
	})
	entry := d.log.WithField("elapsed", time.Since(start))
	if err != nil {
		entry.WithError(err).Errorf("%s failed", kind)
	} else {
		entry.Debugf("%s", kind)
	}
	return err
}

func (d *DB) Close() error {
	err := d.db.Close()
	if err != nil {
		d.log.WithError(err).Error("Close")
	}
	return err
}

type tx struct {
	t   store.Tx
	log logrus.FieldLogger
}

func (t *tx) CreateBucket(name string) error {
	err := t.t.CreateBucket(name)
	t.logged(err, "CreateBucket", logrus.Fields{"bucket": name})
	return err
}

func (t *tx) DropBucket(name string) error {
	err := t.t.DropBucket(name)
	t.logged(err, "DropBucket", logrus.Fields{"bucket": name})
	return err
}

func (t *tx) HasBucket(name string) (bool, error) {
	ok, err := t.t.HasBucket(name)
	t.logged(err, "HasBucket", logrus.Fields{"bucket": name, "found": ok})
	return ok, err
}

func (t *tx) Get(bucket string, key []byte) ([]byte, error) {
	val, err := t.t.Get(bucket, key)
	t.logged(err, "Get", logrus.Fields{"bucket": bucket, "key": string(key)})
	return val, err
}

func (t *tx) Put(bucket string, key, val []byte) error {
	err := t.t.Put(bucket, key, val)
	t.logged(err, "Put", logrus.Fields{"bucket": bucket, "key": string(key), "size": len(val)})
	return err
}

func (t *tx) PutIfAbsent(bucket string, key, val []byte) (bool, error) {
	added, err := t.t.PutIfAbsent(bucket, key, val)
	t.logged(err, "PutIfAbsent", logrus.Fields{"bucket": bucket, "key": string(key), "added": added})
	return added, err
}

func (t *tx) Delete(bucket string, key []byte) error {
	err := t.t.Delete(bucket, key)
	t.logged(err, "Delete", logrus.Fields{"bucket": bucket, "key": string(key)})
	return err
}

func (t *tx) Each(bucket string, start []byte, f func(key, val []byte) error) error {
	t.log.WithFields(logrus.Fields{"bucket": bucket, "start": string(start)}).Debug("Each")
	var n int
	err := t.t.Each(bucket, start, func(key, val []byte) error {
		n++
		return f(key, val)
	})
	t.logged(err, "Each done", logrus.Fields{"bucket": bucket, "count": n})
	return err
}

func (t *tx) logged(err error, op string, fields logrus.Fields) {
	entry := t.log.WithFields(fields)
	if err != nil {
		entry.WithError(err).Debugf("ERROR in %s", op)
	} else {
		entry.Debug(op)
	}
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (store.DB, error) {
		nested, err := store.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested, nil), nil
	})
}
