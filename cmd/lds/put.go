package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/index"
)

func (c maincmd) put(ctx context.Context, ld bool, mediaType string, _ []string) error {
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin")
	}

	r, done, err := c.openActive(ctx)
	if err != nil {
		return err
	}
	defer done()

	var h lds.Hash
	if ld {
		rec, err := lds.ParseLinkedData(b)
		if err != nil {
			return errors.Wrap(err, "parsing record")
		}
		h, err = r.WriteLinkedData(ctx, rec)
	} else {
		h, err = r.WriteResource(ctx, b, mediaType)
	}

	var report *index.Report
	if errors.As(err, &report) {
		c.logger.WithError(err).Warn("some indexes failed")
	} else if err != nil {
		return errors.Wrap(err, "storing record")
	}

	fmt.Println(h.URI())
	return nil
}
