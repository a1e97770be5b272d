package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

func (c maincmd) rebuild(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: rebuild INDEX...")
	}

	r, done, err := c.openActive(ctx)
	if err != nil {
		return err
	}
	defer done()

	for _, name := range args {
		if err := r.Rebuild(ctx, name); err != nil {
			return errors.Wrapf(err, "rebuilding %s", name)
		}
		c.logger.WithField("index", name).Info("rebuilt")
	}
	return nil
}

func (c maincmd) version(ctx context.Context, _ []string) error {
	account, err := c.activeAccount()
	if err != nil {
		return err
	}
	r, done, err := c.openRepo(ctx, account)
	if err != nil {
		return err
	}
	defer done()

	v, err := r.Version(ctx)
	if err != nil {
		return errors.Wrap(err, "reading version")
	}
	fmt.Printf("account %s: schema version %d (latest %d)\n", account, v, r.Schema().Latest())

	if t, ok, err := r.Checkpoint(ctx); err != nil {
		return errors.Wrap(err, "reading checkpoint")
	} else if ok {
		fmt.Printf("last sync checkpoint %s\n", t)
	}
	return nil
}
