package syncer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/lds"
	"github.com/bobg/lds/index"
	"github.com/bobg/lds/remote"
	"github.com/bobg/lds/repo"
)

// Downloader pulls remote records into a repo.
type Downloader struct {
	Repo   *repo.Repo
	Logger logrus.FieldLogger

	// Overlap is subtracted from the pass's start time to get the next checkpoint,
	// to tolerate clock skew between this device and whatever stamps remote files.
	// Re-downloading a file is harmless.
	Overlap time.Duration

	// Now is the clock.
	// The default is time.Now.
	Now func() time.Time
}

// DownloadResult summarizes a download pass.
type DownloadResult struct {
	// Files is the number of linked-data files downloaded.
	Files int

	// Records is the number of records ingested.
	Records int

	// Skipped is the number of files or entries that could not be decoded.
	Skipped int

	// Resources is the number of referenced resources fetched.
	Resources int

	// Wanted is the number of referenced resources
	// that could not be fetched intact
	// and are retried on later passes.
	Wanted int

	// Checkpoint is the new checkpoint.
	Checkpoint time.Time
}

// Run does one download pass.
//
// It lists the files created since the repo's checkpoint
// (or all of them, if there is no checkpoint)
// and ingests every record in them as remote-origin records.
// Resources that those records refer to
// and that are missing locally
// are fetched too.
//
// A fetched resource whose bytes do not match its hash
// is recorded with repo.Want
// and retried on every later pass until it arrives intact.
//
// Undecodable files and entries are logged and skipped.
// Any other failure ends the pass without moving the checkpoint,
// so the next pass retries the same window.
func (dl *Downloader) Run(ctx context.Context, d remote.Drive) (DownloadResult, error) {
	var (
		res    DownloadResult
		logger = dl.logger()
		start  = dl.now()
	)

	checkpoint, ok, err := dl.Repo.Checkpoint(ctx)
	if err != nil {
		return res, errors.Wrap(err, "reading checkpoint")
	}

	var ids []remote.FileID
	if ok {
		ids, err = d.ListCreatedSince(ctx, &checkpoint)
	} else {
		ids, err = d.ListCreatedUntil(ctx, start)
	}
	if err != nil {
		return res, errors.Wrap(err, "listing remote files")
	}
	logger.WithField("files", len(ids)).Debug("download pass")

	refs := make(map[lds.Hash]struct{})

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := logger.WithField("id", id)

		p, err := d.DownloadLinkedData(ctx, id)
		if err != nil {
			return res, errors.Wrapf(err, "downloading %s", id)
		}
		res.Files++

		recs, err := remote.Extract(p)
		if err != nil {
			var m lds.MultiErr
			if errors.As(err, &m) {
				for entry, e := range m {
					log.WithField("entry", entry).WithError(e).Warn("skipping undecodable entry")
				}
				res.Skipped += len(m)
			} else {
				log.WithError(err).Warn("skipping undecodable file")
				res.Skipped++
			}
		}

		for _, ld := range recs {
			h, err := dl.Repo.Ingest(ctx, ld, lds.OriginRemote)
			var report *index.Report
			switch {
			case errors.Is(err, repo.ErrIDMismatch):
				log.WithError(err).Warn("skipping record")
				res.Skipped++
				continue
			case errors.As(err, &report):
				log.WithField("hash", h).WithError(err).Warn("indexing downloaded record")
			case err != nil:
				return res, errors.Wrapf(err, "storing record from %s", id)
			}
			res.Records++
			for _, ref := range ld.References() {
				refs[ref] = struct{}{}
			}
		}
	}

	wanted, err := dl.Repo.Wanted(ctx)
	if err != nil {
		return res, errors.Wrap(err, "listing wanted resources")
	}
	for _, h := range wanted {
		refs[h] = struct{}{}
	}

	n, corrupt, err := dl.fetchResources(ctx, d, refs)
	res.Resources = n
	if err != nil {
		return res, err
	}
	if err = dl.Repo.Want(ctx, corrupt...); err != nil {
		return res, errors.Wrap(err, "recording wanted resources")
	}
	res.Wanted = len(corrupt)

	next := start.Add(-dl.Overlap)
	if ok && next.Before(checkpoint) {
		next = checkpoint
	}
	if err = dl.Repo.SetCheckpoint(ctx, next); err != nil {
		return res, errors.Wrap(err, "advancing checkpoint")
	}
	res.Checkpoint = next
	return res, nil
}

// fetchResources downloads the referenced hashes
// that are not already stored locally as either kind of record
// and that the drive has as resources.
// It returns the number fetched
// and the hashes whose downloaded bytes did not match.
func (dl *Downloader) fetchResources(ctx context.Context, d remote.Drive, refs map[lds.Hash]struct{}) (int, []lds.Hash, error) {
	var missing []lds.Hash
	for h := range refs {
		if h.Algorithm() != lds.DefaultAlgorithm {
			// Local stores are keyed by the default algorithm only.
			continue
		}
		if ok, err := dl.Repo.Has(ctx, lds.KindResource, h); err != nil {
			return 0, nil, err
		} else if ok {
			continue
		}
		if ok, err := dl.Repo.Has(ctx, lds.KindLinkedData, h); err != nil {
			return 0, nil, err
		} else if ok {
			continue
		}
		missing = append(missing, h)
	}
	if len(missing) == 0 {
		return 0, nil, nil
	}

	found, err := d.ResourcesAlreadyUploaded(ctx, missing)
	if err != nil {
		return 0, nil, errors.Wrap(err, "checking remote resources")
	}

	var (
		n       int
		corrupt []lds.Hash
	)
	for h, id := range found {
		if err := ctx.Err(); err != nil {
			return n, corrupt, err
		}
		p, err := d.DownloadResource(ctx, id)
		if err != nil {
			return n, corrupt, errors.Wrapf(err, "downloading resource %s", h)
		}
		if got := lds.Sum(p.Data); got != h {
			dl.logger().WithFields(logrus.Fields{"hash": h, "got": got}).Warn("skipping corrupt resource")
			corrupt = append(corrupt, h)
			continue
		}
		if _, err = dl.Repo.Ingest(ctx, &lds.Resource{Data: p.Data, MediaType: p.MediaType}, lds.OriginRemote); err != nil {
			var report *index.Report
			if !errors.As(err, &report) {
				return n, corrupt, errors.Wrapf(err, "storing resource %s", h)
			}
		}
		n++
	}
	return n, corrupt, nil
}

func (dl *Downloader) logger() logrus.FieldLogger {
	l := dl.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("component", "downloader")
}

func (dl *Downloader) now() time.Time {
	if dl.Now != nil {
		return dl.Now()
	}
	return time.Now()
}
