package lds

import (
	"fmt"
	"sort"
	"strings"
)

// MultiErr collects errors from a batch of independent operations,
// keyed by a label for each failed operation
// (an index name, a hash, a bundle entry name).
type MultiErr map[string]error

// Error implements the error interface.
func (e MultiErr) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var strs []string
	for _, k := range keys {
		strs = append(strs, fmt.Sprintf("%s: %s", k, e[k]))
	}
	return "error(s): " + strings.Join(strs, "; ")
}

// Add records err under key,
// allocating the map if needed.
// A nil err is ignored.
func (e *MultiErr) Add(key string, err error) {
	if err == nil {
		return
	}
	if *e == nil {
		*e = make(MultiErr)
	}
	(*e)[key] = err
}

// Err returns e as an error,
// or nil if it is empty.
func (e MultiErr) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
