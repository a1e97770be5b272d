package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/blob"
)

func (c maincmd) ls(ctx context.Context, kind string, _ []string) error {
	r, done, err := c.openActive(ctx)
	if err != nil {
		return err
	}
	defer done()

	var s *blob.Store
	switch lds.Kind(kind) {
	case lds.KindResource:
		s = r.Resources()
	case lds.KindLinkedData:
		s = r.LinkedDataStore()
	default:
		return fmt.Errorf("unknown kind %s", kind)
	}

	return s.ReadAll(ctx, lds.Hash{}, func(h lds.Hash, b []byte) error {
		fmt.Printf("%s %d\n", h.Name(), len(b))
		return nil
	})
}

func (c maincmd) pending(ctx context.Context, _ []string) error {
	r, done, err := c.openActive(ctx)
	if err != nil {
		return err
	}
	defer done()

	recs, err := r.Pending(ctx)
	if err != nil {
		return errors.Wrap(err, "listing pending records")
	}
	for _, sr := range recs {
		fmt.Printf("%s %s\n", sr.Kind, sr.Hash.URI())
	}
	return nil
}
