package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Factory creates a DB from a configuration map.
type Factory func(context.Context, map[string]interface{}) (DB, error)

var registry = make(map[string]Factory)

// Register makes a DB implementation available to Create under the given key.
// It is normally called from an init function.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create creates a DB of the type registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (DB, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// CreateNested creates the DB described by conf["nested"],
// for wrapper implementations.
func CreateNested(ctx context.Context, conf map[string]interface{}) (DB, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, errors.New(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, errors.New(`"nested" parameter missing "type"`)
	}
	db, err := Create(ctx, nestedType, nested)
	return db, errors.Wrap(err, "creating nested store")
}
