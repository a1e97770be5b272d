// Package gcs implements a remote.Drive on Google Cloud Storage.
//
// Linked-data files are objects named ld/<time>-<uuid>,
// where <time> sorts lexically in creation order,
// so time-bounded listing is a StartOffset/EndOffset range query.
// Resources are objects named res/<hashname>,
// written with a does-not-exist precondition
// so each resource is stored once no matter how many clients upload it.
package gcs

import (
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
)

var _ remote.Drive = &Drive{}

// Drive is a Google Cloud Storage-based remote.Drive.
type Drive struct {
	bucket *storage.BucketHandle
	now    func() time.Time
}

// New produces a new Drive.
func New(bucket *storage.BucketHandle) *Drive {
	return &Drive{bucket: bucket, now: time.Now}
}

// Dial creates a storage client and produces a Drive on the named bucket.
func Dial(ctx context.Context, bucketName string, opts ...option.ClientOption) (*Drive, error) {
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating cloud storage client")
	}
	return New(c.Bucket(bucketName)), nil
}

const (
	ldPrefix  = "ld/"
	resPrefix = "res/"

	createdKey = "created"
	nameKey    = "name"

	// Concurrent existence checks in ResourcesAlreadyUploaded.
	attrsConcurrency = 8
)

func (d *Drive) ListCreatedSince(ctx context.Context, since *time.Time) ([]remote.FileID, error) {
	q := &storage.Query{Prefix: ldPrefix}
	if since != nil {
		q.StartOffset = ldPrefix + timeKeyAfter(*since)
	}
	return d.list(ctx, q)
}

func (d *Drive) ListCreatedUntil(ctx context.Context, until time.Time) ([]remote.FileID, error) {
	return d.list(ctx, &storage.Query{
		Prefix:    ldPrefix,
		EndOffset: ldPrefix + timeKeyAfter(until),
	})
}

func (d *Drive) list(ctx context.Context, q *storage.Query) ([]remote.FileID, error) {
	if err := q.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, errors.Wrap(err, "setting attribute selection")
	}

	// Objects come back in lexical order, which is creation order.
	var (
		ids  []remote.FileID
		iter = d.bucket.Objects(ctx, q)
	)
	for {
		attrs, err := iter.Next()
		if stderrs.Is(err, iterator.Done) {
			return ids, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "iterating over objects")
		}
		ids = append(ids, remote.FileID(attrs.Name))
	}
}

func (d *Drive) download(ctx context.Context, id remote.FileID, prefix string) (remote.Payload, error) {
	name := string(id)
	if !strings.HasPrefix(name, prefix) {
		return remote.Payload{}, errors.Wrapf(remote.ErrNotFound, "invalid id %s", id)
	}
	r, err := d.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return remote.Payload{}, errors.Wrapf(remote.ErrNotFound, "%s", id)
	}
	if err != nil {
		return remote.Payload{}, errors.Wrapf(err, "reading info of object %s", name)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return remote.Payload{}, errors.Wrapf(err, "reading contents of object %s", name)
	}
	return remote.Payload{Data: b, MediaType: r.Attrs.ContentType}, nil
}

func (d *Drive) DownloadLinkedData(ctx context.Context, id remote.FileID) (remote.Payload, error) {
	return d.download(ctx, id, ldPrefix)
}

func (d *Drive) DownloadResource(ctx context.Context, id remote.FileID) (remote.Payload, error) {
	return d.download(ctx, id, resPrefix)
}

func (d *Drive) UploadLinkedData(ctx context.Context, records []lds.LinkedData, created time.Time) (remote.FileID, error) {
	if created.IsZero() {
		created = d.now()
	}
	payload, err := remote.EncodeBundle(records, created)
	if err != nil {
		return "", err
	}

	name := ldPrefix + timeKey(created) + "-" + uuid.NewString()
	w := d.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = payload.MediaType
	w.Metadata = map[string]string{createdKey: created.UTC().Format(time.RFC3339Nano)}
	if err = write(w, payload.Data); err != nil {
		return "", errors.Wrapf(err, "writing object %s", name)
	}
	return remote.FileID(name), nil
}

func (d *Drive) UploadResource(ctx context.Context, data []byte, h lds.Hash, mediaType, name string) (remote.FileID, error) {
	objName := resPrefix + string(h.Name())
	w := d.bucket.Object(objName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = mediaType
	if name != "" {
		w.Metadata = map[string]string{nameKey: name}
	}
	err := write(w, data)
	var e *googleapi.Error
	if stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed {
		// Already there.
		return remote.FileID(objName), nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "writing object %s", objName)
	}
	return remote.FileID(objName), nil
}

// write writes b to w and closes it.
// Precondition failures surface from Close.
func write(w *storage.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (d *Drive) ResourcesAlreadyUploaded(ctx context.Context, hashes []lds.Hash) (map[lds.Hash]remote.FileID, error) {
	found := make([]bool, len(hashes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(attrsConcurrency)
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			name := resPrefix + string(h.Name())
			_, err := d.bucket.Object(name).Attrs(gctx)
			if stderrs.Is(err, storage.ErrObjectNotExist) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "getting object attrs for %s", name)
			}
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[lds.Hash]remote.FileID)
	for i, h := range hashes {
		if found[i] {
			out[h] = remote.FileID(resPrefix + string(h.Name()))
		}
	}
	return out, nil
}

func (d *Drive) Delete(ctx context.Context, id remote.FileID) error {
	name := string(id)
	if !strings.HasPrefix(name, ldPrefix) && !strings.HasPrefix(name, resPrefix) {
		return errors.Wrapf(remote.ErrNotFound, "invalid id %s", id)
	}
	err := d.bucket.Object(name).Delete(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(remote.ErrNotFound, "%s", id)
	}
	return errors.Wrapf(err, "deleting object %s", name)
}

func init() {
	remote.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (remote.Drive, error) {
		bucketName, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		var options []option.ClientOption
		if creds, ok := conf["creds"].(string); ok {
			options = append(options, option.WithCredentialsFile(creds))
		}
		return Dial(ctx, bucketName, options...)
	})
}
