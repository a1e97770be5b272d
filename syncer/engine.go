package syncer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
	"github.com/bobg/lds/repo"
)

// Engine runs full sync passes.
type Engine struct {
	Uploader   *Uploader
	Downloader *Downloader
}

// New produces an Engine for r with default settings.
func New(r *repo.Repo, logger logrus.FieldLogger) *Engine {
	return &Engine{
		Uploader:   &Uploader{Repo: r, Logger: logger},
		Downloader: &Downloader{Repo: r, Logger: logger, Overlap: time.Minute},
	}
}

// Result summarizes a full pass.
type Result struct {
	Upload   UploadResult
	Download DownloadResult
}

// Run uploads, then downloads.
// The two halves do not depend on each other,
// so a failed upload does not prevent the download.
// Errors from both are combined in an lds.MultiErr
// keyed by "upload" and "download".
func (e *Engine) Run(ctx context.Context, d remote.Drive) (Result, error) {
	var (
		res  Result
		errs lds.MultiErr
		err  error
	)

	res.Upload, err = e.Uploader.Run(ctx, d)
	errs.Add("upload", err)

	if ctx.Err() == nil {
		res.Download, err = e.Downloader.Run(ctx, d)
		errs.Add("download", err)
	} else {
		errs.Add("download", ctx.Err())
	}

	return res, errs.Err()
}
