package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/bobg/lds/conn"
	"github.com/bobg/lds/conn/oauth"
	"github.com/bobg/lds/remote"
	"github.com/bobg/lds/remote/gcs"
	"github.com/bobg/lds/syncer"
)

// sync runs one sync pass between an account's repository and the remote drive.
// With oauth configured,
// the drive belongs to the logged-in account
// and only that account's repository is synced with it.
func (c maincmd) sync(ctx context.Context, maxBundle int, overlap time.Duration, _ []string) error {
	pass := func(ctx context.Context, account string, d remote.Drive) error {
		r, done, err := c.openRepo(ctx, account)
		if err != nil {
			return err
		}
		defer done()

		e := syncer.New(r, c.logger)
		e.Uploader.MaxBundle = maxBundle
		e.Downloader.Overlap = overlap

		res, err := e.Run(ctx, d)
		c.logger.WithFields(logrus.Fields{
			"account":              account,
			"uploaded_resources":   res.Upload.Resources,
			"already_uploaded":     res.Upload.AlreadyUploaded,
			"uploaded_linked_data": res.Upload.LinkedData,
			"downloaded_files":     res.Download.Files,
			"downloaded_records":   res.Download.Records,
			"fetched_resources":    res.Download.Resources,
			"skipped":              res.Download.Skipped,
			"wanted":               res.Download.Wanted,
		}).Info("sync pass")
		return err
	}

	if c.conf.OAuth == nil {
		account, err := c.activeAccount()
		if err != nil {
			return err
		}
		d, err := remote.Create(ctx, c.conf.Remote)
		if err != nil {
			return err
		}
		return pass(ctx, account, d)
	}

	ctrl, states, stop := c.controller(ctx)
	defer stop()

	ctrl.Dispatch(conn.Load{})
	s, err := awaitSettled(ctx, states)
	if err != nil {
		return err
	}
	if err = checkSyncAccount(s, c.account); err != nil {
		return err
	}
	return ctrl.Sync(ctx, pass)
}

// checkSyncAccount reports whether the repository of account,
// if given,
// may be synced in state s.
// Only the logged-in account's repository may reach its drive.
func checkSyncAccount(s conn.State, account string) error {
	logged, ok := s.(conn.Logged)
	if !ok {
		return conn.ErrNotLogged
	}
	if account != "" && account != logged.Repository {
		return fmt.Errorf("cannot sync account %s while logged in as %s", account, logged.Repository)
	}
	return nil
}

func (c maincmd) provider() *oauth.Provider {
	o := c.conf.OAuth
	p := oauth.Google(o.ClientID, o.ClientSecret, o.TokenFile, o.Scopes...)
	p.Logger = c.logger
	return p
}

// controller starts a conn.Controller.
// Calling stop ends its loop.
func (c maincmd) controller(ctx context.Context) (ctrl *conn.Controller, states <-chan conn.State, stop func()) {
	p := c.provider()

	drives := func(ctx context.Context, s *conn.Session, _ conn.Profile) (remote.Drive, error) {
		if c.conf.Remote["type"] == "gcs" {
			bucket, ok := c.conf.Remote["bucket"].(string)
			if !ok {
				return nil, errors.New(`remote missing "bucket" parameter`)
			}
			return gcs.Dial(ctx, bucket, option.WithTokenSource(p.TokenSource(ctx, s)))
		}
		return remote.Create(ctx, c.conf.Remote)
	}

	ctx, cancel := context.WithCancel(ctx)
	ctrl = conn.NewController(p, p, drives, c.logger)
	states = ctrl.Watch(ctx)
	errch := make(chan error, 1)
	go func() { errch <- ctrl.Run(ctx) }()

	stop = func() {
		cancel()
		<-errch
	}
	return ctrl, states, stop
}

// awaitSettled reads states until one that needs no pending effect.
// Error states produce their error.
func awaitSettled(ctx context.Context, states <-chan conn.State) (conn.State, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case s, ok := <-states:
			if !ok {
				return nil, errors.New("controller stopped")
			}
			switch s := s.(type) {
			case conn.Ready:
				return s, nil
			case conn.Logged:
				return s, nil
			case conn.LoadingError:
				return s, errors.Wrap(s.Err, "loading session")
			case conn.LoggingInError:
				return s, errors.Wrap(s.Err, "logging in")
			}
		}
	}
}
