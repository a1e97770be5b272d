package lds

import (
	"encoding/json"
	"sort"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"
)

// Kind distinguishes the two sorts of record.
type Kind string

const (
	KindResource   Kind = "resource"
	KindLinkedData Kind = "linkedData"
)

// Record is either a *Resource or a LinkedData.
type Record interface {
	Kind() Kind

	// Bytes produces the bytes under whose hash the record is stored.
	Bytes() ([]byte, error)
}

var (
	_ Record = &Resource{}
	_ Record = LinkedData{}
)

// Resource is an opaque blob plus its media type.
type Resource struct {
	Data      []byte
	MediaType string
}

func (*Resource) Kind() Kind { return KindResource }

func (r *Resource) Bytes() ([]byte, error) { return r.Data, nil }

// Hash computes the content address of r.
func (r *Resource) Hash() Hash { return Sum(r.Data) }

// IDField is the self-identity field of a linked-data record.
// Once a record is stored,
// this field equals the uri form of the record's hash.
const IDField = "@id"

// TypeField holds a linked-data record's type.
const TypeField = "@type"

// LinkedData is a self-describing structured document:
// a JSON object.
//
// The identity of a linked-data record is the hash of its canonical encoding
// with IDField removed,
// so the stored bytes never contain the identity they imply.
type LinkedData map[string]interface{}

func (LinkedData) Kind() Kind { return KindLinkedData }

// Bytes produces the canonical encoding of ld.
func (ld LinkedData) Bytes() ([]byte, error) {
	return ld.Canonical()
}

// ParseLinkedData decodes a single JSON object.
// Numbers decode as float64,
// which is also how the canonical encoding renders them.
func ParseLinkedData(b []byte) (LinkedData, error) {
	var ld LinkedData
	if err := json.Unmarshal(b, &ld); err != nil {
		return nil, errors.Wrap(err, "decoding linked-data record")
	}
	if ld == nil {
		return nil, errors.New("linked-data record is null")
	}
	return ld, nil
}

// Canonical produces the canonical JSON encoding of ld without IDField.
func (ld LinkedData) Canonical() ([]byte, error) {
	stripped := make(map[string]interface{}, len(ld))
	for k, v := range ld {
		if k == IDField {
			continue
		}
		stripped[k] = v
	}
	b, err := canonicaljson.Marshal(stripped)
	return b, errors.Wrap(err, "canonicalizing linked-data record")
}

// Hash computes the content address of ld.
func (ld LinkedData) Hash() (Hash, error) {
	b, err := ld.Canonical()
	if err != nil {
		return Hash{}, err
	}
	return Sum(b), nil
}

// Identify returns a shallow copy of ld whose IDField is its hash's uri form,
// together with that hash.
func (ld LinkedData) Identify() (LinkedData, Hash, error) {
	h, err := ld.Hash()
	if err != nil {
		return nil, Hash{}, err
	}
	out := make(LinkedData, len(ld)+1)
	for k, v := range ld {
		out[k] = v
	}
	out[IDField] = string(h.URI())
	return out, h, nil
}

// ID parses the record's IDField, if it has one.
func (ld LinkedData) ID() (Hash, bool) {
	s := ld.String(IDField)
	if s == "" {
		return Hash{}, false
	}
	h, err := ParseURI(s)
	if err != nil {
		return Hash{}, false
	}
	return h, true
}

// Type is the record's TypeField.
// When the field holds a list, the first string in it is used.
func (ld LinkedData) Type() string {
	switch v := ld[TypeField].(type) {
	case string:
		return v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				return s
			}
		}
	}
	return ""
}

// String returns the named top-level field if it is a string,
// or the "@id" of the named field if it is an object.
func (ld LinkedData) String(field string) string {
	switch v := ld[field].(type) {
	case string:
		return v
	case map[string]interface{}:
		if s, ok := v[IDField].(string); ok {
			return s
		}
	}
	return ""
}

// Object returns the named top-level field if it is an object.
func (ld LinkedData) Object(field string) (LinkedData, bool) {
	v, ok := ld[field].(map[string]interface{})
	return LinkedData(v), ok
}

// Time parses the named top-level field as an RFC 3339 timestamp.
func (ld LinkedData) Time(field string) (time.Time, bool) {
	s := ld.String(field)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// References lists every hash referred to anywhere inside ld
// (other than by its own IDField),
// sorted and without duplicates.
func (ld LinkedData) References() []Hash {
	seen := make(map[Hash]struct{})
	for k, v := range ld {
		if k == IDField {
			continue
		}
		collectRefs(v, seen)
	}
	out := make([]Hash, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func collectRefs(v interface{}, seen map[Hash]struct{}) {
	switch v := v.(type) {
	case string:
		if h, err := ParseURI(v); err == nil {
			seen[h] = struct{}{}
		}
	case []interface{}:
		for _, item := range v {
			collectRefs(item, seen)
		}
	case map[string]interface{}:
		for _, item := range v {
			collectRefs(item, seen)
		}
	case LinkedData:
		for _, item := range v {
			collectRefs(item, seen)
		}
	}
}

// HashOf computes the hash of any Record.
func HashOf(rec Record) (Hash, error) {
	b, err := rec.Bytes()
	if err != nil {
		return Hash{}, err
	}
	return Sum(b), nil
}
