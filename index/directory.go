package index

import (
	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// Directory indexes linked-data records by type and name.
//
// Keys are type NUL name NUL hashname.
type Directory struct{}

var _ Index = Directory{}

// DirectoryName is the name (and bucket) of the Directory index.
const DirectoryName = "directory"

// DirectoryProps is the value of a Directory entry.
type DirectoryProps struct {
	Hash lds.Hash `json:"hash"`
	Type string   `json:"type"`
	Name string   `json:"name,omitempty"`
}

func (Directory) Name() string { return DirectoryName }

func (Directory) Update(rec lds.Record, h lds.Hash) ([]Op, error) {
	ld, ok := rec.(lds.LinkedData)
	if !ok {
		return nil, nil
	}
	typ := clean(ld.Type())
	if typ == "" {
		return nil, nil
	}
	name := clean(ld.String("name"))
	val, err := marshal(DirectoryProps{Hash: h, Type: typ, Name: name})
	if err != nil {
		return nil, err
	}
	return []Op{{Key: key(typ, name, string(h.Name())), Value: val}}, nil
}

// DirectoryPrefix is the key prefix selecting records of the given type,
// and of the given name if it is non-empty.
func DirectoryPrefix(typ, name string) []byte {
	if name == "" {
		return prefix(typ)
	}
	return prefix(typ, name)
}

// QueryDirectory lists the records of the given type,
// restricted to the given name if it is non-empty,
// ordered by name and then by hash.
func QueryDirectory(tx store.Tx, typ, name string) ([]DirectoryProps, error) {
	return decodeAll[DirectoryProps](tx, DirectoryName, DirectoryPrefix(typ, name))
}
