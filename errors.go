package lds

import "github.com/pkg/errors"

// ErrNotFound is the error returned
// when trying to read a non-existent hash or key.
var ErrNotFound = errors.New("not found")
