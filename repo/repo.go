// Package repo implements a versioned repository of records:
// two blob stores
// (one for resources, one for linked-data records)
// plus the indexes derived from them
// and the bookkeeping that tracks what has been synced.
//
// All writes go through Ingest,
// which stores a record, updates every index,
// and creates its sync record in a single transaction.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/lds"
	"github.com/bobg/lds/blob"
	"github.com/bobg/lds/blob/lru"
	"github.com/bobg/lds/index"
	"github.com/bobg/lds/store"
)

var (
	// ErrMigration is the error (wrapped in a *MigrationError) from Open
	// when a schema version cannot be applied.
	ErrMigration = errors.New("migration failed")

	// ErrIDMismatch is the error from Ingest
	// for a linked-data record whose "@id" is not its own hash.
	ErrIDMismatch = errors.New("record @id does not match its content")
)

// MigrationError tells which version failed to apply.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("applying schema version %d: %s", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func (e *MigrationError) Is(target error) bool { return target == ErrMigration }

var (
	versionKey    = []byte("version")
	checkpointKey = []byte("checkpoint")
)

// Keys under wantPrefix name resources that downloads should keep trying to fetch.
const wantPrefix = "want/"

// Repo is an open repository.
type Repo struct {
	db     store.DB
	schema *Schema
	logger logrus.FieldLogger

	// mu serializes writers.
	mu  sync.Mutex
	hub index.Hub

	resources, linkedData *blob.Store

	cacheSize int
	cache     *lru.Store // linked data

	batchSize int
}

// Option configures a Repo.
type Option func(*Repo)

// WithLogger sets the logger.
// The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Repo) {
		r.logger = l
	}
}

// WithCache keeps up to n recently read linked-data records in memory.
func WithCache(n int) Option {
	return func(r *Repo) {
		r.cacheSize = n
	}
}

// WithBatchSize sets how many records each backfill transaction replays.
// The default is DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(r *Repo) {
		r.batchSize = n
	}
}

// Open opens the repository in db,
// first bringing it up to the latest version in schema.
//
// Each version is recorded in the same transaction that completes it.
// A version that backfills an index builds it in batches
// in a bucket that is invisible until that final transaction,
// so a large store never needs one huge transaction.
// If a version fails,
// Open returns a *MigrationError
// and the recorded version stays at the last one that succeeded.
//
// The Repo takes ownership of db.
func Open(ctx context.Context, db store.DB, schema *Schema, opts ...Option) (*Repo, error) {
	r := &Repo{
		db:         db,
		schema:     schema,
		resources:  blob.New(db, ResourcesBucket),
		linkedData: blob.New(db, LinkedDataBucket),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.StandardLogger()
	}
	r.logger = r.logger.WithField("component", "repo")
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}

	if r.cacheSize > 0 {
		c, err := lru.New(r.linkedData, r.cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "creating cache")
		}
		r.cache = c
	}

	if err := r.finishDrops(ctx); err != nil {
		return nil, err
	}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) migrate(ctx context.Context) error {
	current, err := r.Version(ctx)
	if err != nil {
		return errors.Wrap(err, "reading schema version")
	}
	if current > r.schema.Latest() {
		return fmt.Errorf("repository version %d is newer than schema version %d", current, r.schema.Latest())
	}

	for _, v := range r.schema.Versions() {
		if v.Number <= current {
			continue
		}
		log := r.logger.WithField("version", v.Number)
		log.Info("applying schema version")

		if err = r.apply(ctx, v); err != nil {
			log.WithError(err).Error("schema version failed")
			return &MigrationError{Version: v.Number, Err: err}
		}
	}
	return nil
}

func (r *Repo) apply(ctx context.Context, v Version) error {
	finish := func(tx store.Tx) error {
		if err := tx.CreateBucket(MetaBucket); err != nil {
			return err
		}
		for _, b := range v.Buckets {
			if b == v.Backfill {
				continue
			}
			if err := tx.CreateBucket(b); err != nil {
				return errors.Wrapf(err, "creating bucket %s", b)
			}
		}
		return tx.Put(MetaBucket, versionKey, []byte(strconv.Itoa(v.Number)))
	}

	if v.Backfill == "" {
		return r.update(ctx, finish)
	}
	idx, _ := r.schema.Indexes().Lookup(v.Backfill)
	_, err := r.rebuild(ctx, idx, finish)
	return errors.Wrapf(err, "backfilling %s", v.Backfill)
}

// Version reads the repository's recorded schema version.
// A new, empty repository is at version 0.
func (r *Repo) Version(ctx context.Context) (int, error) {
	var v int
	err := r.view(ctx, func(tx store.Tx) error {
		b, err := tx.Get(MetaBucket, versionKey)
		if errors.Is(err, lds.ErrNotFound) || errors.Is(err, store.ErrNoBucket) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err = strconv.Atoi(string(b))
		return errors.Wrapf(err, "parsing version %q", b)
	})
	return v, err
}

func (r *Repo) mediaType(tx store.Tx, h lds.Hash) (string, error) {
	b, err := tx.Get(ResourceTypesBucket, []byte(h.Name()))
	if errors.Is(err, lds.ErrNotFound) {
		return "", nil
	}
	return string(b), err
}

// Close ends all subscriptions and closes the underlying database.
func (r *Repo) Close() error {
	r.hub.Close()
	return r.db.Close()
}

// Schema is the schema r was opened with.
func (r *Repo) Schema() *Schema { return r.schema }

// Resources is the blob store holding resource bytes.
func (r *Repo) Resources() *blob.Store { return r.resources }

// LinkedDataStore is the blob store holding canonical linked-data records.
func (r *Repo) LinkedDataStore() *blob.Store { return r.linkedData }

// Ingest is the single write path for records from any origin.
//
// In one transaction it stores rec,
// updates every index,
// and creates rec's sync record
// (unsynced for OriginLocal, synced for OriginRemote).
// A sync record already marked synced stays that way.
// Writing a record that is already present is harmless.
//
// If some indexes fail,
// the record and the other indexes are still written
// and the error is an *index.Report.
// Index changes are published to subscribers after the transaction commits.
func (r *Repo) Ingest(ctx context.Context, rec lds.Record, origin lds.Origin) (lds.Hash, error) {
	var bucket string
	switch rec := rec.(type) {
	case *lds.Resource:
		bucket = ResourcesBucket
	case lds.LinkedData:
		bucket = LinkedDataBucket
	default:
		return lds.Hash{}, fmt.Errorf("unknown record type %T", rec)
	}

	b, err := rec.Bytes()
	if err != nil {
		return lds.Hash{}, err
	}
	if ld, ok := rec.(lds.LinkedData); ok {
		if id, ok := ld.ID(); ok && id != lds.Sum(b) {
			return lds.Hash{}, errors.Wrapf(ErrIDMismatch, "@id %s, content %s", id, lds.Sum(b))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		h       lds.Hash
		added   bool
		changes []index.Change
		report  *index.Report
	)
	err = r.update(ctx, func(tx store.Tx) error {
		var err error
		h, added, err = blob.Put(tx, bucket, b)
		if err != nil {
			return err
		}
		if res, ok := rec.(*lds.Resource); ok {
			if res.MediaType != "" {
				if _, err = tx.PutIfAbsent(ResourceTypesBucket, []byte(h.Name()), []byte(res.MediaType)); err != nil {
					return errors.Wrapf(err, "storing media type of %s", h)
				}
			}
			if err = tx.Delete(MetaBucket, []byte(wantPrefix+string(h.Name()))); err != nil {
				return err
			}
		}

		changes, err = r.schema.Indexes().Update(ctx, tx, rec, h)
		report = nil
		if errors.As(err, &report) {
			err = nil
		}
		if err != nil {
			return err
		}

		return r.putSyncRecord(tx, h, rec.Kind(), origin == lds.OriginRemote)
	})
	if err != nil {
		return lds.Hash{}, err
	}

	r.logger.WithFields(logrus.Fields{
		"hash":   h,
		"kind":   rec.Kind(),
		"added":  added,
		"origin": origin,
	}).Debug("ingested")

	r.hub.Publish(changes)

	if report != nil {
		r.logger.WithField("hash", h).WithError(report).Warn("some indexes failed")
		return h, report
	}
	return h, nil
}

func (r *Repo) putSyncRecord(tx store.Tx, h lds.Hash, kind lds.Kind, synced bool) error {
	k := []byte(h.Name())
	old, err := tx.Get(SyncBucket, k)
	switch {
	case errors.Is(err, lds.ErrNotFound):
	case err != nil:
		return err
	default:
		var sr lds.SyncRecord
		if err = json.Unmarshal(old, &sr); err != nil {
			return errors.Wrapf(err, "decoding sync record %s", h)
		}
		if sr.Synced || !synced {
			return nil
		}
	}
	b, err := json.Marshal(lds.SyncRecord{Hash: h, Kind: kind, Synced: synced})
	if err != nil {
		return err
	}
	return tx.Put(SyncBucket, k, b)
}

// WriteResource stores a locally authored resource.
func (r *Repo) WriteResource(ctx context.Context, data []byte, mediaType string) (lds.Hash, error) {
	return r.Ingest(ctx, &lds.Resource{Data: data, MediaType: mediaType}, lds.OriginLocal)
}

// WriteLinkedData stores a locally authored linked-data record.
func (r *Repo) WriteLinkedData(ctx context.Context, ld lds.LinkedData) (lds.Hash, error) {
	return r.Ingest(ctx, ld, lds.OriginLocal)
}

// Resource reads a resource, or returns lds.ErrNotFound.
func (r *Repo) Resource(ctx context.Context, h lds.Hash) (*lds.Resource, error) {
	var res *lds.Resource
	err := r.view(ctx, func(tx store.Tx) error {
		b, err := blob.Get(tx, ResourcesBucket, h)
		if err != nil {
			return err
		}
		mediaType, err := r.mediaType(tx, h)
		if err != nil {
			return err
		}
		res = &lds.Resource{Data: b, MediaType: mediaType}
		return nil
	})
	return res, err
}

// LinkedData reads a linked-data record, or returns lds.ErrNotFound.
// The result's "@id" is the uri form of h.
func (r *Repo) LinkedData(ctx context.Context, h lds.Hash) (lds.LinkedData, error) {
	read := r.linkedData.Read
	if r.cache != nil {
		read = r.cache.Read
	}
	b, err := read(ctx, h)
	if err != nil {
		return nil, err
	}
	ld, err := lds.ParseLinkedData(b)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", h)
	}
	ld[lds.IDField] = string(h.URI())
	return ld, nil
}

// Has tells whether a record of the given kind is present.
func (r *Repo) Has(ctx context.Context, kind lds.Kind, h lds.Hash) (bool, error) {
	if kind == lds.KindResource {
		return r.resources.Has(ctx, h)
	}
	return r.linkedData.Has(ctx, h)
}

// SyncRecord gets the sync record for h,
// or lds.ErrNotFound.
func (r *Repo) SyncRecord(ctx context.Context, h lds.Hash) (lds.SyncRecord, error) {
	var sr lds.SyncRecord
	err := r.view(ctx, func(tx store.Tx) error {
		b, err := tx.Get(SyncBucket, []byte(h.Name()))
		if err != nil {
			return err
		}
		return json.Unmarshal(b, &sr)
	})
	return sr, err
}

// Pending lists the sync records not yet synced,
// in hash order.
func (r *Repo) Pending(ctx context.Context) ([]lds.SyncRecord, error) {
	var out []lds.SyncRecord
	err := r.view(ctx, func(tx store.Tx) error {
		return tx.Each(SyncBucket, nil, func(k, v []byte) error {
			var sr lds.SyncRecord
			if err := json.Unmarshal(v, &sr); err != nil {
				return errors.Wrapf(err, "decoding sync record %s", k)
			}
			if !sr.Synced {
				out = append(out, sr)
			}
			return nil
		})
	})
	return out, err
}

// MarkSynced marks the given records as synced.
// Each must already have a sync record.
func (r *Repo) MarkSynced(ctx context.Context, hashes ...lds.Hash) error {
	if len(hashes) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(ctx, func(tx store.Tx) error {
		for _, h := range hashes {
			k := []byte(h.Name())
			b, err := tx.Get(SyncBucket, k)
			if err != nil {
				return errors.Wrapf(err, "getting sync record %s", h)
			}
			var sr lds.SyncRecord
			if err = json.Unmarshal(b, &sr); err != nil {
				return errors.Wrapf(err, "decoding sync record %s", h)
			}
			if sr.Synced {
				continue
			}
			sr.Synced = true
			if b, err = json.Marshal(sr); err != nil {
				return err
			}
			if err = tx.Put(SyncBucket, k, b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Checkpoint reads the download checkpoint.
// The boolean is false if there is none yet.
func (r *Repo) Checkpoint(ctx context.Context) (time.Time, bool, error) {
	var (
		t  time.Time
		ok bool
	)
	err := r.view(ctx, func(tx store.Tx) error {
		b, err := tx.Get(MetaBucket, checkpointKey)
		if errors.Is(err, lds.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		t, err = time.Parse(time.RFC3339Nano, string(b))
		ok = err == nil
		return errors.Wrapf(err, "parsing checkpoint %q", b)
	})
	return t, ok, err
}

// SetCheckpoint records the download checkpoint.
func (r *Repo) SetCheckpoint(ctx context.Context, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(ctx, func(tx store.Tx) error {
		return tx.Put(MetaBucket, checkpointKey, []byte(t.UTC().Format(time.RFC3339Nano)))
	})
}

// Want records resources that a download needed but could not get,
// so that later downloads try again.
// Storing a resource removes it from the list.
func (r *Repo) Want(ctx context.Context, hashes ...lds.Hash) error {
	if len(hashes) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(ctx, func(tx store.Tx) error {
		for _, h := range hashes {
			_, err := blob.Get(tx, ResourcesBucket, h)
			if err == nil {
				continue
			}
			if !errors.Is(err, lds.ErrNotFound) {
				return err
			}
			if err = tx.Put(MetaBucket, []byte(wantPrefix+string(h.Name())), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Wanted lists the resources recorded with Want and not yet stored,
// in hash order.
func (r *Repo) Wanted(ctx context.Context) ([]lds.Hash, error) {
	var out []lds.Hash
	err := r.view(ctx, func(tx store.Tx) error {
		return store.EachPrefix(tx, MetaBucket, []byte(wantPrefix), func(key, _ []byte) error {
			h, err := lds.ParseName(string(key[len(wantPrefix):]))
			if err != nil {
				return errors.Wrapf(err, "parsing wanted key %q", key)
			}
			out = append(out, h)
			return nil
		})
	})
	return out, err
}

// Rebuild rebuilds the named index from the stored records
// and swaps it in,
// publishing the difference to subscribers.
// Writers wait until it finishes;
// readers see the old index until the swap.
func (r *Repo) Rebuild(ctx context.Context, name string) error {
	idx, ok := r.schema.Indexes().Lookup(name)
	if !ok {
		return fmt.Errorf("unknown index %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	changes, err := r.rebuild(ctx, idx, nil)
	if err != nil {
		return errors.Wrapf(err, "rebuilding %s", name)
	}

	r.logger.WithFields(logrus.Fields{"index": name, "changes": len(changes)}).Info("rebuilt index")
	r.hub.Publish(changes)
	return nil
}
