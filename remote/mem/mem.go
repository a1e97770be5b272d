// Package mem implements an in-memory remote.Drive,
// for tests and for trying things out.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
)

var _ remote.Drive = &Drive{}

// Drive is an in-memory remote.Drive.
type Drive struct {
	mu        sync.Mutex
	now       func() time.Time
	seq       int
	files     map[remote.FileID]*file
	resources map[lds.Hash]remote.FileID
	calls     map[string]int

	// Fail, if non-nil, is called at the start of every operation
	// with the operation's method name.
	// A non-nil result is returned from the operation,
	// which then has no effect.
	Fail func(op string) error
}

type file struct {
	payload remote.Payload
	created time.Time
	seq     int
	linked  bool
	hash    lds.Hash
}

// New produces an empty Drive.
func New() *Drive {
	return &Drive{
		now:       time.Now,
		files:     make(map[remote.FileID]*file),
		resources: make(map[lds.Hash]remote.FileID),
		calls:     make(map[string]int),
	}
}

// SetClock replaces the function the drive uses to stamp new files.
func (d *Drive) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// Calls tells how many times the named operation has been called.
func (d *Drive) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Len is the number of files on the drive.
func (d *Drive) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

// d.mu must be held.
func (d *Drive) begin(ctx context.Context, op string) error {
	d.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Fail != nil {
		return d.Fail(op)
	}
	return nil
}

func (d *Drive) ListCreatedSince(ctx context.Context, since *time.Time) ([]remote.FileID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, "ListCreatedSince"); err != nil {
		return nil, err
	}
	return d.list(func(f *file) bool {
		return since == nil || f.created.After(*since)
	}), nil
}

func (d *Drive) ListCreatedUntil(ctx context.Context, until time.Time) ([]remote.FileID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, "ListCreatedUntil"); err != nil {
		return nil, err
	}
	return d.list(func(f *file) bool {
		return !f.created.After(until)
	}), nil
}

func (d *Drive) list(pred func(*file) bool) []remote.FileID {
	var ids []remote.FileID
	for id, f := range d.files {
		if f.linked && pred(f) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		fi, fj := d.files[ids[i]], d.files[ids[j]]
		if !fi.created.Equal(fj.created) {
			return fi.created.Before(fj.created)
		}
		return fi.seq < fj.seq
	})
	return ids
}

func (d *Drive) download(ctx context.Context, op string, id remote.FileID, linked bool) (remote.Payload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, op); err != nil {
		return remote.Payload{}, err
	}
	f, ok := d.files[id]
	if !ok || f.linked != linked {
		return remote.Payload{}, errors.Wrapf(remote.ErrNotFound, "%s", id)
	}
	p := f.payload
	p.Data = append([]byte(nil), p.Data...)
	return p, nil
}

func (d *Drive) DownloadLinkedData(ctx context.Context, id remote.FileID) (remote.Payload, error) {
	return d.download(ctx, "DownloadLinkedData", id, true)
}

func (d *Drive) DownloadResource(ctx context.Context, id remote.FileID) (remote.Payload, error) {
	return d.download(ctx, "DownloadResource", id, false)
}

func (d *Drive) UploadLinkedData(ctx context.Context, records []lds.LinkedData, created time.Time) (remote.FileID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, "UploadLinkedData"); err != nil {
		return "", err
	}
	if created.IsZero() {
		created = d.now()
	}
	p, err := remote.EncodeBundle(records, created)
	if err != nil {
		return "", err
	}
	return d.add(&file{payload: p, created: created, linked: true}), nil
}

// PutPayload adds a linked-data file with arbitrary content,
// for simulating files written by other clients.
func (d *Drive) PutPayload(p remote.Payload, created time.Time) remote.FileID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&file{payload: p, created: created, linked: true})
}

func (d *Drive) UploadResource(ctx context.Context, data []byte, h lds.Hash, mediaType, _ string) (remote.FileID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, "UploadResource"); err != nil {
		return "", err
	}
	id := d.add(&file{
		payload: remote.Payload{Data: append([]byte(nil), data...), MediaType: mediaType},
		created: d.now(),
		hash:    h,
	})
	if _, ok := d.resources[h]; !ok {
		d.resources[h] = id
	}
	return id, nil
}

// d.mu must be held.
func (d *Drive) add(f *file) remote.FileID {
	d.seq++
	f.seq = d.seq
	id := remote.FileID(uuid.NewString())
	d.files[id] = f
	return id
}

func (d *Drive) ResourcesAlreadyUploaded(ctx context.Context, hashes []lds.Hash) (map[lds.Hash]remote.FileID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, "ResourcesAlreadyUploaded"); err != nil {
		return nil, err
	}
	out := make(map[lds.Hash]remote.FileID)
	for _, h := range hashes {
		if id, ok := d.resources[h]; ok {
			out[h] = id
		}
	}
	return out, nil
}

func (d *Drive) Delete(ctx context.Context, id remote.FileID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, "Delete"); err != nil {
		return err
	}
	f, ok := d.files[id]
	if !ok {
		return errors.Wrapf(remote.ErrNotFound, "%s", id)
	}
	delete(d.files, id)
	if !f.linked && d.resources[f.hash] == id {
		delete(d.resources, f.hash)
		for otherID, other := range d.files {
			if !other.linked && other.hash == f.hash {
				d.resources[f.hash] = otherID
				break
			}
		}
	}
	return nil
}

func init() {
	remote.Register("mem", func(context.Context, map[string]interface{}) (remote.Drive, error) {
		return New(), nil
	})
}
