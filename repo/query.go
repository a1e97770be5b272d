package repo

import (
	"context"

	"github.com/bobg/lds/index"
	"github.com/bobg/lds/store"
)

// Directory lists linked-data records by type,
// and by name if name is non-empty.
func (r *Repo) Directory(ctx context.Context, typ, name string) (out []index.DirectoryProps, err error) {
	err = r.view(ctx, func(tx store.Tx) error {
		out, err = index.QueryDirectory(tx, typ, name)
		return err
	})
	return out, err
}

// ByURL lists the records whose url is u.
func (r *Repo) ByURL(ctx context.Context, u string) (out []index.URLProps, err error) {
	err = r.view(ctx, func(tx store.Tx) error {
		out, err = index.QueryURL(tx, u)
		return err
	})
	return out, err
}

// Annotations lists the annotations on target,
// which is a hash uri or a url.
func (r *Repo) Annotations(ctx context.Context, target string) (out []index.AnnotationProps, err error) {
	err = r.view(ctx, func(tx store.Tx) error {
		out, err = index.QueryAnnotations(tx, target)
		return err
	})
	return out, err
}

// Tasks lists the newest revision of each task in the window.
func (r *Repo) Tasks(ctx context.Context, w index.Window) (out []index.CompletionProps, err error) {
	err = r.view(ctx, func(tx store.Tx) error {
		out, err = index.QueryCompletion(tx, w)
		return err
	})
	return out, err
}

// Task gets the newest revision of one task.
func (r *Repo) Task(ctx context.Context, identifier string) (out index.CompletionProps, err error) {
	err = r.view(ctx, func(tx store.Tx) error {
		out, err = index.Task(tx, identifier)
		return err
	})
	return out, err
}

// WatchHistory lists the times object was watched, newest first.
func (r *Repo) WatchHistory(ctx context.Context, object string) (out []index.WatchProps, err error) {
	err = r.view(ctx, func(tx store.Tx) error {
		out, err = index.QueryWatchHistory(tx, object)
		return err
	})
	return out, err
}

// LatestWatched lists the n most recent watch actions.
func (r *Repo) LatestWatched(ctx context.Context, n int) (out []index.WatchProps, err error) {
	err = r.view(ctx, func(tx store.Tx) error {
		out, err = index.LatestWatched(tx, n)
		return err
	})
	return out, err
}

// Subscribe streams changes to the named index under the given key prefix,
// starting with a snapshot of the current matching entries.
// The subscription ends when ctx is canceled.
func (r *Repo) Subscribe(ctx context.Context, name string, prefix []byte) (*index.Subscription, error) {
	// Holding mu keeps writers out between the snapshot and registration.
	r.mu.Lock()
	defer r.mu.Unlock()

	var snap []index.Change
	err := r.view(ctx, func(tx store.Tx) error {
		var err error
		snap, err = index.Snapshot(tx, name, prefix)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.hub.Subscribe(ctx, name, prefix, snap), nil
}

// SubscribeDirectory streams Directory changes for one type (and name, if non-empty).
func (r *Repo) SubscribeDirectory(ctx context.Context, typ, name string) (*index.Subscription, error) {
	return r.Subscribe(ctx, index.DirectoryName, index.DirectoryPrefix(typ, name))
}

// SubscribeAnnotations streams the annotations on target.
func (r *Repo) SubscribeAnnotations(ctx context.Context, target string) (*index.Subscription, error) {
	return r.Subscribe(ctx, index.AnnotationsName, index.AnnotationsPrefix(target))
}

// SubscribeTasks streams the newest revision of every task.
func (r *Repo) SubscribeTasks(ctx context.Context) (*index.Subscription, error) {
	return r.Subscribe(ctx, index.CompletionName, index.CompletionPrefix())
}
