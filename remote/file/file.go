// Package file implements a remote.Drive as a directory tree,
// such as a folder synced by some other tool or a mounted network share.
//
// Linked-data files live in ld/ under names beginning with their creation time,
// so a sorted directory listing is in creation order.
// Resources live in res/ under names beginning with their hash.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobg/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
)

var _ remote.Drive = &Drive{}

// Drive is a directory-based remote.Drive.
type Drive struct {
	root    string
	now     func() time.Time
	flocker flock.Locker
}

// New produces a Drive storing files beneath root.
func New(root string) *Drive {
	return &Drive{root: root, now: time.Now}
}

const (
	ldDir   = "ld"
	resDir  = "res"
	zipExt  = ".zip"
	metaExt = ".meta"
)

type resourceMeta struct {
	MediaType string `json:"media_type,omitempty"`
	Name      string `json:"name,omitempty"`
}

func (d *Drive) lockPath() string {
	return filepath.Join(d.root, "lock")
}

func (d *Drive) lock() error {
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return errors.Wrapf(err, "ensuring %s exists", d.root)
	}
	f, err := os.OpenFile(d.lockPath(), os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "creating lock file")
	}
	f.Close()
	return d.flocker.Lock(d.lockPath())
}

func (d *Drive) unlock() error {
	return d.flocker.Unlock(d.lockPath())
}

// path maps id to a file path,
// refusing ids that would escape the root.
func (d *Drive) path(id remote.FileID, dir string) (string, error) {
	clean := path.Clean(string(id))
	if clean != string(id) || path.Dir(clean) != dir || strings.HasPrefix(path.Base(clean), ".") {
		return "", errors.Wrapf(remote.ErrNotFound, "invalid id %s", id)
	}
	return filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

func (d *Drive) ListCreatedSince(ctx context.Context, since *time.Time) ([]remote.FileID, error) {
	return d.list(ctx, func(created time.Time) bool {
		return since == nil || created.After(*since)
	})
}

func (d *Drive) ListCreatedUntil(ctx context.Context, until time.Time) ([]remote.FileID, error) {
	return d.list(ctx, func(created time.Time) bool {
		return !created.After(until)
	})
}

func (d *Drive) list(ctx context.Context, pred func(time.Time) bool) ([]remote.FileID, error) {
	dir := filepath.Join(d.root, ldDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading dir %s", dir)
	}

	// ReadDir sorts by name, which is creation order.
	var ids []remote.FileID
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		created, err := createdFromName(e.Name())
		if err != nil {
			continue
		}
		if pred(created) {
			ids = append(ids, remote.FileID(ldDir+"/"+e.Name()))
		}
	}
	return ids, nil
}

func nameForCreated(created time.Time, ext string) (string, error) {
	n := created.UnixNano()
	if n < 0 {
		return "", fmt.Errorf("creation time %s is before 1970", created)
	}
	return fmt.Sprintf("%020d-%s%s", n, uuid.NewString(), ext), nil
}

func createdFromName(name string) (time.Time, error) {
	i := strings.IndexByte(name, '-')
	if i < 0 {
		return time.Time{}, errors.New("malformed name")
	}
	n, err := strconv.ParseInt(name[:i], 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parsing creation time")
	}
	return time.Unix(0, n).UTC(), nil
}

func (d *Drive) DownloadLinkedData(ctx context.Context, id remote.FileID) (remote.Payload, error) {
	p, err := d.path(id, ldDir)
	if err != nil {
		return remote.Payload{}, err
	}
	b, err := readFile(p)
	if err != nil {
		return remote.Payload{}, err
	}
	mediaType := remote.MediaTypeLinkedData
	if strings.HasSuffix(p, zipExt) {
		mediaType = remote.MediaTypeZip
	}
	return remote.Payload{Data: b, MediaType: mediaType}, nil
}

func (d *Drive) DownloadResource(ctx context.Context, id remote.FileID) (remote.Payload, error) {
	p, err := d.path(id, resDir)
	if err != nil {
		return remote.Payload{}, err
	}
	b, err := readFile(p)
	if err != nil {
		return remote.Payload{}, err
	}
	var meta resourceMeta
	if mb, err := os.ReadFile(p + metaExt); err == nil {
		if err = json.Unmarshal(mb, &meta); err != nil {
			return remote.Payload{}, errors.Wrapf(err, "decoding metadata for %s", id)
		}
	}
	return remote.Payload{Data: b, MediaType: meta.MediaType}, nil
}

func readFile(p string) ([]byte, error) {
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(remote.ErrNotFound, "%s", p)
	}
	return b, errors.Wrapf(err, "reading %s", p)
}

func (d *Drive) UploadLinkedData(ctx context.Context, records []lds.LinkedData, created time.Time) (remote.FileID, error) {
	if created.IsZero() {
		created = d.now()
	}
	payload, err := remote.EncodeBundle(records, created)
	if err != nil {
		return "", err
	}
	ext := remote.RecordSuffix
	if payload.MediaType == remote.MediaTypeZip {
		ext = zipExt
	}
	name, err := nameForCreated(created, ext)
	if err != nil {
		return "", err
	}
	if err = d.writeFile(filepath.Join(d.root, ldDir, name), payload.Data); err != nil {
		return "", err
	}
	return remote.FileID(ldDir + "/" + name), nil
}

func (d *Drive) UploadResource(ctx context.Context, data []byte, h lds.Hash, mediaType, name string) (remote.FileID, error) {
	if err := d.lock(); err != nil {
		return "", errors.Wrap(err, "locking drive")
	}
	defer d.unlock()

	// Another client may have uploaded it since the caller checked.
	existing, err := d.resourceIDs(h)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	base := fmt.Sprintf("%s-%s", h.Name(), uuid.NewString())
	p := filepath.Join(d.root, resDir, base)
	mb, err := json.Marshal(resourceMeta{MediaType: mediaType, Name: name})
	if err != nil {
		return "", err
	}
	if err = d.writeFile(p+metaExt, mb); err != nil {
		return "", err
	}
	if err = d.writeFile(p, data); err != nil {
		return "", err
	}
	return remote.FileID(resDir + "/" + base), nil
}

// writeFile writes via a temporary file and a rename,
// so readers never see a partial file.
func (d *Drive) writeFile(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "ensuring %s exists", dir)
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	if _, err = f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", tmpname)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpname)
	}
	return errors.Wrapf(os.Rename(tmpname, p), "renaming %s to %s", tmpname, p)
}

func (d *Drive) resourceIDs(h lds.Hash) ([]remote.FileID, error) {
	pattern := filepath.Join(d.root, resDir, string(h.Name())+"-*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "globbing %s", pattern)
	}
	sort.Strings(matches)
	var ids []remote.FileID
	for _, m := range matches {
		if strings.HasSuffix(m, metaExt) {
			continue
		}
		ids = append(ids, remote.FileID(resDir+"/"+filepath.Base(m)))
	}
	return ids, nil
}

func (d *Drive) ResourcesAlreadyUploaded(ctx context.Context, hashes []lds.Hash) (map[lds.Hash]remote.FileID, error) {
	out := make(map[lds.Hash]remote.FileID)
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, err := d.resourceIDs(h)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			out[h] = ids[0]
		}
	}
	return out, nil
}

func (d *Drive) Delete(ctx context.Context, id remote.FileID) error {
	dir := path.Dir(string(id))
	if dir != ldDir && dir != resDir {
		return errors.Wrapf(remote.ErrNotFound, "invalid id %s", id)
	}
	p, err := d.path(id, dir)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(remote.ErrNotFound, "%s", id)
	}
	if err != nil {
		return errors.Wrapf(err, "removing %s", p)
	}
	if dir == resDir {
		if err = os.Remove(p + metaExt); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "removing metadata for %s", id)
		}
	}
	return nil
}

func init() {
	remote.Register("file", func(_ context.Context, conf map[string]interface{}) (remote.Drive, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root), nil
	})
}
