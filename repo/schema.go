package repo

import (
	"fmt"

	"github.com/bobg/lds/index"
)

// Names of the buckets every repository has.
const (
	ResourcesBucket     = "resources"
	LinkedDataBucket    = "linkeddata"
	ResourceTypesBucket = "resourcetypes"
	SyncBucket          = "syncrecords"
	MetaBucket          = "meta"
)

// Version is one entry in a Schema's ledger.
type Version struct {
	Number int

	// Buckets are created when the version is applied,
	// if they do not already exist.
	Buckets []string

	// Backfill, if non-empty, names an index to rebuild from scratch
	// when the version is applied.
	Backfill string
}

// Schema is an append-only ledger of versions,
// together with the indexes the versions refer to.
// It is built once at startup and passed to Open;
// it cannot be changed afterward.
type Schema struct {
	composite *index.Composite
	versions  []Version
}

// NewSchema validates a ledger and produces a Schema.
// Version numbers must be positive and strictly increasing.
// Each Backfill must name one of the given indexes,
// and each index must be created
// (by a Buckets entry or a Backfill)
// by some version.
func NewSchema(indexes []index.Index, versions ...Version) (*Schema, error) {
	c, err := index.NewComposite(indexes...)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool)
	prev := 0
	for _, v := range versions {
		if v.Number <= prev {
			return nil, fmt.Errorf("version %d follows version %d", v.Number, prev)
		}
		prev = v.Number
		for _, b := range v.Buckets {
			declared[b] = true
		}
		if v.Backfill != "" {
			if _, ok := c.Lookup(v.Backfill); !ok {
				return nil, fmt.Errorf("version %d backfills unknown index %s", v.Number, v.Backfill)
			}
			declared[v.Backfill] = true
		}
	}
	for _, idx := range indexes {
		if !declared[idx.Name()] {
			return nil, fmt.Errorf("no version creates index %s", idx.Name())
		}
	}

	return &Schema{
		composite: c,
		versions:  append([]Version(nil), versions...),
	}, nil
}

// Latest is the highest version number in the ledger,
// or 0 if it is empty.
func (s *Schema) Latest() int {
	if len(s.versions) == 0 {
		return 0
	}
	return s.versions[len(s.versions)-1].Number
}

// Versions returns a copy of the ledger.
func (s *Schema) Versions() []Version {
	return append([]Version(nil), s.versions...)
}

// Indexes is the set of indexes maintained on every write.
func (s *Schema) Indexes() *index.Composite {
	return s.composite
}

// DefaultSchema is the ledger for the builtin indexes.
func DefaultSchema() *Schema {
	s, err := NewSchema(index.Builtin(),
		Version{
			Number:  1,
			Buckets: []string{ResourcesBucket, LinkedDataBucket, ResourceTypesBucket, SyncBucket, MetaBucket},
		},
		Version{Number: 2, Buckets: []string{index.DirectoryName}, Backfill: index.DirectoryName},
		Version{Number: 3, Buckets: []string{index.URLName}, Backfill: index.URLName},
		Version{Number: 4, Buckets: []string{index.AnnotationsName}, Backfill: index.AnnotationsName},
		Version{Number: 5, Buckets: []string{index.CompletionName}, Backfill: index.CompletionName},
		Version{Number: 6, Buckets: []string{index.WatchHistoryName}, Backfill: index.WatchHistoryName},
	)
	if err != nil {
		panic(err)
	}
	return s
}
