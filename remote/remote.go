// Package remote describes the off-device drive that records sync to.
//
// A Drive holds files.
// Each file is either a bundle of one or more linked-data records
// or a single resource.
// Files are immutable and are listed by creation time;
// the sync engine never interprets a FileID beyond handing it back to the Drive that made it.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
)

// FileID identifies a file on a particular Drive.
type FileID string

// Payload is the content of a file plus its media type.
type Payload struct {
	Data      []byte
	MediaType string
}

// ErrNotFound is the error for a FileID that does not exist on a Drive.
var ErrNotFound = errors.New("remote file not found")

// Drive is an external blob service.
// Every method is a network call that may fail transiently;
// none are retried internally.
type Drive interface {
	// ListCreatedSince lists the linked-data files created strictly after since,
	// in creation order.
	// A nil since means all of them.
	ListCreatedSince(ctx context.Context, since *time.Time) ([]FileID, error)

	// ListCreatedUntil lists the linked-data files created at or before until,
	// in creation order.
	ListCreatedUntil(ctx context.Context, until time.Time) ([]FileID, error)

	// DownloadLinkedData fetches a linked-data file.
	// Use Extract to get the records from it.
	DownloadLinkedData(ctx context.Context, id FileID) (Payload, error)

	// UploadLinkedData stores records as one new file
	// whose creation time is created
	// (or the current time if created is zero).
	UploadLinkedData(ctx context.Context, records []lds.LinkedData, created time.Time) (FileID, error)

	// DownloadResource fetches a resource file.
	DownloadResource(ctx context.Context, id FileID) (Payload, error)

	// UploadResource stores a resource whose hash is h.
	// The name is a human-readable hint and may be empty.
	UploadResource(ctx context.Context, data []byte, h lds.Hash, mediaType, name string) (FileID, error)

	// ResourcesAlreadyUploaded tells which of the given resource hashes the drive already has,
	// and under what FileID.
	ResourcesAlreadyUploaded(ctx context.Context, hashes []lds.Hash) (map[lds.Hash]FileID, error)

	// Delete removes a file.
	Delete(ctx context.Context, id FileID) error
}

// Factory creates a Drive from a configuration map.
type Factory func(context.Context, map[string]interface{}) (Drive, error)

var registry = make(map[string]Factory)

// Register makes a Drive implementation available to Create under the given key.
// It is normally called from an init function.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create creates the Drive described by conf,
// whose "type" names a registered implementation.
func Create(ctx context.Context, conf map[string]interface{}) (Drive, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, errors.New(`missing "type" parameter`)
	}
	f, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", typ)
	}
	d, err := f(ctx, conf)
	return d, errors.Wrapf(err, "creating %s drive", typ)
}
