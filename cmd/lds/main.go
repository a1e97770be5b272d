// Command lds is a CLI interface to a local linked-data store
// and its remote drive.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/lds"
	"github.com/bobg/lds/repo"
	_ "github.com/bobg/lds/remote/file"
	_ "github.com/bobg/lds/remote/gcs"
	_ "github.com/bobg/lds/remote/mem"
	_ "github.com/bobg/lds/remote/rpc"
	"github.com/bobg/lds/store"
	_ "github.com/bobg/lds/store/badger"
	_ "github.com/bobg/lds/store/compress"
	_ "github.com/bobg/lds/store/logging"
	_ "github.com/bobg/lds/store/mem"
	_ "github.com/bobg/lds/store/pg"
	_ "github.com/bobg/lds/store/sqlite3"
)

type maincmd struct {
	conf *config

	// The value of -account, if given.
	account string

	logger *logrus.Logger
}

func main() {
	var (
		configFile = flag.String("config", "ldsconf.json", "path to config file (.json or .yaml)")
		account    = flag.String("account", "", "account whose repository to use (default: the logged-in account, or unclaimed)")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	conf, err := loadConfig(*configFile)
	if err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c := maincmd{conf: conf, account: *account, logger: logger}
	if err = subcmd.Run(ctx, c, flag.Args()); err != nil {
		logger.Fatal(err)
	}
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"get", c.get, nil,
		"login", c.login, nil,
		"logout", c.logout, nil,
		"ls", c.ls, subcmd.Params(
			"kind", subcmd.String, string(lds.KindLinkedData), "kind of record to list (resource or linkedData)",
		),
		"pending", c.pending, nil,
		"put", c.put, subcmd.Params(
			"ld", subcmd.Bool, false, "stdin is a linked-data record",
			"type", subcmd.String, "application/octet-stream", "media type of a resource",
		),
		"query", c.query, subcmd.Params(
			"dir", subcmd.String, "", "list records of this type",
			"name", subcmd.String, "", "with -dir, restrict to this name",
			"url", subcmd.String, "", "list records with this url",
			"annotations", subcmd.String, "", "list annotations of this target",
			"tasks", subcmd.Bool, false, "list tasks",
			"from", subcmd.String, "", "with -tasks, earliest timestamp",
			"to", subcmd.String, "", "with -tasks, latest timestamp",
			"completed", subcmd.String, "", "with -tasks, true or false to filter by completion",
			"task", subcmd.String, "", "show the current revision of the task with this identifier",
			"watch", subcmd.String, "", "list watch history of this object",
			"latest", subcmd.Int, 0, "list this many most recent watch actions",
			"subscribe", subcmd.Bool, false, "with -dir, -annotations, or -tasks, stream changes until interrupted",
		),
		"rebuild", c.rebuild, nil,
		"serve", c.serve, subcmd.Params(
			"addr", subcmd.String, ":7425", "listen address",
		),
		"sync", c.sync, subcmd.Params(
			"max-bundle", subcmd.Int, 0, "most linked-data records per uploaded bundle (0 for no limit)",
			"overlap", subcmd.Duration, time.Minute, "how far before each pass's start to set the checkpoint",
		),
		"version", c.version, nil,
	)
}

// openRepo locks and opens the repository for account.
// The caller must call the returned function when done.
func (c maincmd) openRepo(ctx context.Context, account string) (*repo.Repo, func(), error) {
	if err := checkAccount(account); err != nil {
		return nil, nil, err
	}
	dir := filepath.Join(c.conf.Root, account)

	release, err := repo.Acquire(filepath.Join(dir, "lock"))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "locking account %s", account)
	}

	storeConf := c.conf.storeConf(dir)
	typ, _ := storeConf["type"].(string)
	db, err := store.Create(ctx, typ, storeConf)
	if err != nil {
		release()
		return nil, nil, errors.Wrapf(err, "creating %s-type store", typ)
	}

	r, err := repo.Open(ctx, db, repo.DefaultSchema(), repo.WithLogger(c.logger), repo.WithCache(256))
	if err != nil {
		db.Close()
		release()
		return nil, nil, errors.Wrapf(err, "opening repository for account %s", account)
	}

	done := func() {
		if err := r.Close(); err != nil {
			c.logger.WithError(err).Warn("closing repository")
		}
		if err := release(); err != nil {
			c.logger.WithError(err).Warn("releasing lock")
		}
	}
	return r, done, nil
}

// parseHash accepts either textual form of a hash.
func parseHash(s string) (lds.Hash, error) {
	if strings.HasPrefix(s, lds.URIScheme+":") {
		return lds.ParseURI(s)
	}
	return lds.ParseName(s)
}
