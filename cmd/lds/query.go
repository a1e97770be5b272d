package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/lds/index"
)

func (c maincmd) query(
	ctx context.Context,
	dir, name, url, annotations string,
	tasks bool,
	fromstr, tostr, completed, task, watch string,
	latest int,
	subscribe bool,
	_ []string,
) error {
	r, done, err := c.openActive(ctx)
	if err != nil {
		return err
	}
	defer done()

	enc := json.NewEncoder(os.Stdout)

	if subscribe {
		var sub *index.Subscription
		switch {
		case dir != "":
			sub, err = r.SubscribeDirectory(ctx, dir, name)
		case annotations != "":
			sub, err = r.SubscribeAnnotations(ctx, annotations)
		case tasks:
			sub, err = r.SubscribeTasks(ctx)
		default:
			return errors.New("-subscribe needs -dir, -annotations, or -tasks")
		}
		if err != nil {
			return errors.Wrap(err, "subscribing")
		}
		defer sub.Close()

		for ch := range sub.C() {
			var v interface{}
			if err := ch.Decode(&v); err != nil {
				return errors.Wrapf(err, "decoding change to %q", ch.Key)
			}
			if err := enc.Encode(map[string]interface{}{"op": ch.Op.String(), "value": v}); err != nil {
				return err
			}
		}
		return nil
	}

	var out interface{}
	switch {
	case dir != "":
		out, err = r.Directory(ctx, dir, name)
	case url != "":
		out, err = r.ByURL(ctx, url)
	case annotations != "":
		out, err = r.Annotations(ctx, annotations)
	case tasks:
		var w index.Window
		if w, err = window(fromstr, tostr, completed); err != nil {
			return err
		}
		out, err = r.Tasks(ctx, w)
	case task != "":
		out, err = r.Task(ctx, task)
	case watch != "":
		out, err = r.WatchHistory(ctx, watch)
	case latest > 0:
		out, err = r.LatestWatched(ctx, latest)
	default:
		return errors.New("no query given")
	}
	if err != nil {
		return errors.Wrap(err, "querying")
	}

	return enc.Encode(out)
}

func window(fromstr, tostr, completed string) (index.Window, error) {
	var (
		w   index.Window
		err error
	)
	if fromstr != "" {
		if w.From, err = time.Parse(time.RFC3339, fromstr); err != nil {
			return w, errors.Wrap(err, "parsing -from")
		}
	}
	if tostr != "" {
		if w.To, err = time.Parse(time.RFC3339, tostr); err != nil {
			return w, errors.Wrap(err, "parsing -to")
		}
	}
	switch completed {
	case "":
	case "true", "false":
		b := completed == "true"
		w.Completed = &b
	default:
		return w, errors.New("-completed must be true or false")
	}
	return w, nil
}
