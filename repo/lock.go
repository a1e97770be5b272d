package repo

import (
	"os"
	"path/filepath"

	"github.com/bobg/flock"
	"github.com/pkg/errors"
)

// Acquire takes an exclusive lock on the file at path,
// creating it if needed,
// so that only one process at a time owns a repository.
// It blocks until the lock is available.
// The returned function releases the lock.
func Acquire(path string) (release func() error, err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "ensuring %s exists", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}
	f.Close()

	var locker flock.Locker
	if err = locker.Lock(path); err != nil {
		return nil, errors.Wrapf(err, "locking %s", path)
	}
	return func() error {
		return errors.Wrapf(locker.Unlock(path), "unlocking %s", path)
	}, nil
}
