package index

import (
	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// URL indexes linked-data records by their "url" field,
// so a page seen before can be found again by address.
type URL struct{}

var _ Index = URL{}

const URLName = "url"

// URLProps is the value of a URL entry.
type URLProps struct {
	Hash lds.Hash `json:"hash"`
	URL  string   `json:"url"`
	Type string   `json:"type,omitempty"`
}

func (URL) Name() string { return URLName }

func (URL) Update(rec lds.Record, h lds.Hash) ([]Op, error) {
	ld, ok := rec.(lds.LinkedData)
	if !ok {
		return nil, nil
	}
	u := clean(ld.String("url"))
	if u == "" {
		return nil, nil
	}
	val, err := marshal(URLProps{Hash: h, URL: u, Type: ld.Type()})
	if err != nil {
		return nil, err
	}
	return []Op{{Key: key(u, string(h.Name())), Value: val}}, nil
}

// URLPrefix is the key prefix selecting records with the given url.
func URLPrefix(u string) []byte {
	return prefix(u)
}

// QueryURL lists the records whose url is exactly u.
func QueryURL(tx store.Tx, u string) ([]URLProps, error) {
	return decodeAll[URLProps](tx, URLName, URLPrefix(u))
}
