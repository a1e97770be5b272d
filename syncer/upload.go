// Package syncer reconciles a repo.Repo with a remote.Drive.
//
// An Uploader pushes records not yet synced.
// A Downloader pulls records created remotely since the last checkpoint
// and feeds them through the same write path as local records.
// An Engine does one of each.
package syncer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
	"github.com/bobg/lds/repo"
)

// Uploader uploads pending records.
type Uploader struct {
	Repo   *repo.Repo
	Logger logrus.FieldLogger

	// MaxBundle, if positive, is the most linked-data records per uploaded bundle.
	// Zero means all pending records go in one bundle.
	MaxBundle int

	// Now stamps uploaded bundles.
	// The default is time.Now.
	Now func() time.Time
}

// UploadResult summarizes an upload pass.
type UploadResult struct {
	// Resources is the number of resources uploaded.
	Resources int

	// AlreadyUploaded is the number of resources the drive already had.
	AlreadyUploaded int

	// LinkedData is the number of linked-data records uploaded.
	LinkedData int

	// Bundles is the number of linked-data files created.
	Bundles int
}

// Run does one upload pass.
//
// Resources the drive already has are marked synced without uploading.
// The rest are uploaded one at a time,
// each marked synced as soon as its upload succeeds;
// a failed resource upload is reported
// (in an lds.MultiErr keyed by hash)
// and the others are still attempted.
// Then all pending linked-data records are uploaded together
// (in bundles of at most MaxBundle)
// and marked synced when their bundle's upload succeeds.
// A failed bundle ends the pass.
//
// Records whose upload failed stay unsynced for the next pass.
func (u *Uploader) Run(ctx context.Context, d remote.Drive) (UploadResult, error) {
	var (
		res    UploadResult
		logger = u.logger()
		errs   lds.MultiErr
	)

	pending, err := u.Repo.Pending(ctx)
	if err != nil {
		return res, errors.Wrap(err, "listing pending records")
	}

	var resources, linked []lds.Hash
	for _, sr := range pending {
		switch sr.Kind {
		case lds.KindResource:
			resources = append(resources, sr.Hash)
		case lds.KindLinkedData:
			linked = append(linked, sr.Hash)
		}
	}
	logger.WithFields(logrus.Fields{"resources": len(resources), "linked_data": len(linked)}).Debug("upload pass")

	if len(resources) > 0 {
		present, err := d.ResourcesAlreadyUploaded(ctx, resources)
		if err != nil {
			return res, errors.Wrap(err, "checking remote resources")
		}

		var already []lds.Hash
		for _, h := range resources {
			if _, ok := present[h]; ok {
				already = append(already, h)
			}
		}
		if err = u.Repo.MarkSynced(ctx, already...); err != nil {
			return res, errors.Wrap(err, "marking resources synced")
		}
		res.AlreadyUploaded = len(already)

		for _, h := range resources {
			if _, ok := present[h]; ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}

			r, err := u.Repo.Resource(ctx, h)
			if err != nil {
				return res, errors.Wrapf(err, "reading resource %s", h)
			}
			if _, err = d.UploadResource(ctx, r.Data, h, r.MediaType, ""); err != nil {
				logger.WithField("hash", h).WithError(err).Warn("uploading resource")
				errs.Add(h.String(), err)
				continue
			}
			if err = u.Repo.MarkSynced(ctx, h); err != nil {
				return res, errors.Wrapf(err, "marking %s synced", h)
			}
			res.Resources++
		}
	}

	for _, chunk := range chunks(linked, u.MaxBundle) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		records := make([]lds.LinkedData, 0, len(chunk))
		for _, h := range chunk {
			ld, err := u.Repo.LinkedData(ctx, h)
			if err != nil {
				return res, errors.Wrapf(err, "reading linked data %s", h)
			}
			records = append(records, ld)
		}

		id, err := d.UploadLinkedData(ctx, records, u.now())
		if err != nil {
			logger.WithError(err).Warn("uploading bundle")
			errs.Add("bundle", err)
			break
		}
		if err = u.Repo.MarkSynced(ctx, chunk...); err != nil {
			return res, errors.Wrap(err, "marking linked data synced")
		}
		logger.WithFields(logrus.Fields{"id": id, "records": len(chunk)}).Info("uploaded bundle")
		res.LinkedData += len(chunk)
		res.Bundles++
	}

	return res, errs.Err()
}

func chunks(hashes []lds.Hash, size int) [][]lds.Hash {
	if len(hashes) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]lds.Hash{hashes}
	}
	var out [][]lds.Hash
	for len(hashes) > size {
		out = append(out, hashes[:size])
		hashes = hashes[size:]
	}
	return append(out, hashes)
}

func (u *Uploader) logger() logrus.FieldLogger {
	l := u.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("component", "uploader")
}

func (u *Uploader) now() time.Time {
	if u.Now != nil {
		return u.Now()
	}
	return time.Now()
}
