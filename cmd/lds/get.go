package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

func (c maincmd) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get HASH")
	}
	h, err := parseHash(args[0])
	if err != nil {
		return errors.Wrapf(err, "parsing hash %s", args[0])
	}

	r, done, err := c.openActive(ctx)
	if err != nil {
		return err
	}
	defer done()

	ld, err := r.LinkedData(ctx, h)
	if err == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(ld), "writing record to stdout")
	}

	res, err := r.Resource(ctx, h)
	if err != nil {
		return errors.Wrapf(err, "getting %s", h)
	}
	c.logger.WithField("media_type", res.MediaType).Debug("resource")
	_, err = os.Stdout.Write(res.Data)
	return errors.Wrap(err, "writing resource to stdout")
}
