package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
)

// Media types of linked-data files.
const (
	MediaTypeLinkedData = "application/ld+json"
	MediaTypeJSON       = "application/json"
	MediaTypeZip        = "application/zip"
)

const (
	// RecordSuffix marks the zip entries that hold records.
	// Other entries are ignored.
	RecordSuffix = ".ld.json"

	// ManifestName is the zip entry listing a bundle's contents.
	ManifestName = "manifest.json"
)

// Manifest describes a zip bundle.
type Manifest struct {
	Created time.Time  `json:"created"`
	Records []lds.Hash `json:"records"`
}

// EncodeBundle encodes records for upload.
// A single record is sent as itself.
// Several records go in a zip file,
// one entry per record named by its hash,
// plus a manifest.
// Every record is sent with its "@id".
func EncodeBundle(records []lds.LinkedData, created time.Time) (Payload, error) {
	type entry struct {
		h lds.Hash
		b []byte
	}
	var entries []entry
	for _, ld := range records {
		ided, h, err := ld.Identify()
		if err != nil {
			return Payload{}, err
		}
		b, err := canonicaljson.Marshal(map[string]interface{}(ided))
		if err != nil {
			return Payload{}, errors.Wrapf(err, "encoding %s", h)
		}
		entries = append(entries, entry{h: h, b: b})
	}

	switch len(entries) {
	case 0:
		return Payload{}, errors.New("no records to bundle")
	case 1:
		return Payload{Data: entries[0].b, MediaType: MediaTypeLinkedData}, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].h.Less(entries[j].h) })

	var (
		buf bytes.Buffer
		zw  = zip.NewWriter(&buf)
		m   = Manifest{Created: created.UTC()}
	)
	add := func(name string, b []byte) error {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: created,
		})
		if err != nil {
			return errors.Wrapf(err, "creating zip entry %s", name)
		}
		_, err = w.Write(b)
		return errors.Wrapf(err, "writing zip entry %s", name)
	}
	for i, e := range entries {
		if i > 0 && e.h == entries[i-1].h {
			continue
		}
		if err := add(string(e.h.Name())+RecordSuffix, e.b); err != nil {
			return Payload{}, err
		}
		m.Records = append(m.Records, e.h)
	}
	mb, err := json.Marshal(m)
	if err != nil {
		return Payload{}, errors.Wrap(err, "encoding manifest")
	}
	if err = add(ManifestName, mb); err != nil {
		return Payload{}, err
	}
	if err = zw.Close(); err != nil {
		return Payload{}, errors.Wrap(err, "finishing zip")
	}
	return Payload{Data: buf.Bytes(), MediaType: MediaTypeZip}, nil
}

// Extract decodes the records in a linked-data file.
// The file may hold one record, a JSON array of records,
// or a zip bundle of RecordSuffix entries.
//
// If the file as a whole cannot be decoded,
// Extract returns no records and an error.
// Otherwise it returns every record it could decode,
// and the entries it could not are reported in a non-nil lds.MultiErr
// keyed by entry name (or array position).
func Extract(p Payload) ([]lds.LinkedData, error) {
	if p.MediaType == MediaTypeZip || bytes.HasPrefix(p.Data, []byte("PK\x03\x04")) {
		return extractZip(p.Data)
	}

	trimmed := bytes.TrimSpace(p.Data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, errors.Wrap(err, "decoding record array")
		}
		var (
			out  []lds.LinkedData
			errs lds.MultiErr
		)
		for i, raw := range raws {
			ld, err := lds.ParseLinkedData(raw)
			if err != nil {
				errs.Add(fmt.Sprintf("[%d]", i), err)
				continue
			}
			out = append(out, ld)
		}
		return out, errs.Err()
	}

	ld, err := lds.ParseLinkedData(trimmed)
	if err != nil {
		return nil, err
	}
	return []lds.LinkedData{ld}, nil
}

func extractZip(data []byte) ([]lds.LinkedData, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "opening zip bundle")
	}

	var (
		out  []lds.LinkedData
		errs lds.MultiErr
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(path.Base(f.Name), RecordSuffix) {
			continue
		}
		ld, err := readZipEntry(f)
		if err != nil {
			errs.Add(f.Name, err)
			continue
		}
		out = append(out, ld)
	}
	return out, errs.Err()
}

func readZipEntry(f *zip.File) (lds.LinkedData, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return lds.ParseLinkedData(b)
}
