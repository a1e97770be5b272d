package conn

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/lds/remote"
)

// ErrNotLogged is the error returned by Controller.Sync outside the Logged state.
var ErrNotLogged = errors.New("not logged in")

// Authenticator manages sessions with the remote service.
type Authenticator interface {
	// Load returns the stored session,
	// or nil if there is none.
	Load(context.Context) (*Session, error)

	// Login runs the interactive login flow.
	Login(context.Context) (*Session, error)

	// Logout ends the session and forgets it.
	Logout(context.Context, *Session) error
}

// ProfileFetcher retrieves the profile for a session.
type ProfileFetcher interface {
	Profile(context.Context, *Session) (Profile, error)
}

// DriveFactory builds the remote drive for a session.
type DriveFactory func(context.Context, *Session, Profile) (remote.Drive, error)

// Controller drives the state machine.
// Create it with NewController
// and start its loop with Run.
type Controller struct {
	auth     Authenticator
	profiles ProfileFetcher
	drives   DriveFactory
	logger   logrus.FieldLogger

	mu       sync.Mutex
	state    State
	queue    []Action
	notify   chan struct{}
	watchers map[*watcher]struct{}

	// Syncs may start only while open is true.
	open    bool
	syncs   sync.WaitGroup
	cancels map[*int]context.CancelFunc
}

// NewController produces a Controller in the Idle state.
// A nil logger means logrus.StandardLogger().
func NewController(auth Authenticator, profiles ProfileFetcher, drives DriveFactory, logger logrus.FieldLogger) *Controller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		auth:     auth,
		profiles: profiles,
		drives:   drives,
		logger:   logger.WithField("component", "conn"),
		state:    Idle{},
		notify:   make(chan struct{}, 1),
		watchers: make(map[*watcher]struct{}),
		cancels:  make(map[*int]context.CancelFunc),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Repository names the active repository.
// See ActiveRepository.
func (c *Controller) Repository() string {
	return ActiveRepository(c.State())
}

// SetRepository asks for another repository to become active.
// It has effect only in the Logged state.
// Any sync in progress is canceled,
// and waited for,
// before the switch is published.
func (c *Controller) SetRepository(name string) {
	c.Dispatch(SwitchRepository{Repository: name})
}

// Dispatch queues an action for the driver loop.
// It never blocks.
func (c *Controller) Dispatch(a Action) {
	c.mu.Lock()
	c.queue = append(c.queue, a)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Run is the driver loop.
// It applies queued actions one at a time,
// performs the resulting effects,
// and publishes each new state to watchers.
// It returns when ctx is canceled,
// after canceling any sync in progress.
func (c *Controller) Run(ctx context.Context) error {
	defer c.closeWatchers()

	for {
		c.mu.Lock()
		var a Action
		if len(c.queue) > 0 {
			a = c.queue[0]
			c.queue = c.queue[1:]
		}
		c.mu.Unlock()

		if a == nil {
			select {
			case <-ctx.Done():
				c.cancelSync()
				return ctx.Err()
			case <-c.notify:
				continue
			}
		}

		c.step(ctx, a)
	}
}

func (c *Controller) step(ctx context.Context, a Action) {
	c.mu.Lock()
	old := c.state
	c.mu.Unlock()

	next, effects, ok := transition(old, a)
	if !ok {
		c.logger.WithField("state", old).Debugf("ignoring %T", a)
		return
	}

	// Effects that must finish before the new state is visible.
	for _, e := range effects {
		if _, ok := e.(CancelSync); ok {
			c.cancelSync()
		}
	}

	c.mu.Lock()
	c.state = next
	_, c.open = next.(Logged)
	for w := range c.watchers {
		w.enqueue(next)
	}
	c.mu.Unlock()

	c.logger.WithField("state", next).Infof("%s -> %s", old, next)

	for _, e := range effects {
		c.perform(ctx, e)
	}
}

// perform starts an asynchronous effect.
// Its outcome comes back through Dispatch.
func (c *Controller) perform(ctx context.Context, e Effect) {
	switch e := e.(type) {
	case LoadSession:
		go func() {
			s, err := c.auth.Load(ctx)
			if err != nil {
				c.Dispatch(LoadFailed{Err: err})
				return
			}
			c.Dispatch(Loaded{Session: s})
		}()

	case Authenticate:
		go func() {
			s, err := c.auth.Login(ctx)
			if err != nil {
				c.Dispatch(LoginFailed{Err: err})
				return
			}
			c.Dispatch(LoginSucceeded{Session: s})
		}()

	case FetchProfile:
		go func() {
			p, err := c.profiles.Profile(ctx, e.Session)
			if err != nil {
				c.Dispatch(ProfileFailed{Err: errors.Wrap(err, "fetching profile")})
				return
			}
			d, err := c.drives(ctx, e.Session, p)
			if err != nil {
				c.Dispatch(ProfileFailed{Err: errors.Wrap(err, "creating drive")})
				return
			}
			c.Dispatch(ProfileRetrieved{Profile: p, Drive: d})
		}()

	case SignOut:
		go func() {
			if err := c.auth.Logout(ctx, e.Session); err != nil {
				c.logger.WithError(err).Warn("signing out")
			}
			c.Dispatch(LoggedOut{})
		}()
	}
}

// Sync calls f with the active repository's name and the current drive.
// It returns ErrNotLogged unless the state is Logged.
// The context passed to f is canceled when the state leaves Logged
// or the active repository changes,
// and the state change waits for f to return.
func (c *Controller) Sync(ctx context.Context, f func(ctx context.Context, repository string, d remote.Drive) error) error {
	c.mu.Lock()
	logged, ok := c.state.(Logged)
	if !ok || !c.open {
		c.mu.Unlock()
		return ErrNotLogged
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	key := new(int)
	c.cancels[key] = cancel
	c.syncs.Add(1)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.cancels, key)
		c.mu.Unlock()
		c.syncs.Done()
	}()

	return f(ctx, ActiveRepository(logged), logged.Drive)
}

func (c *Controller) cancelSync() {
	c.mu.Lock()
	c.open = false
	for _, cancel := range c.cancels {
		cancel()
	}
	c.mu.Unlock()

	c.syncs.Wait()
}

// Watch returns a channel that receives the current state
// and then every subsequent state.
// The channel is closed when ctx is canceled or Run returns.
func (c *Controller) Watch(ctx context.Context) <-chan State {
	w := &watcher{
		ch:     make(chan State),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	w.queue = []State{c.state}
	c.watchers[w] = struct{}{}
	c.mu.Unlock()

	go func() {
		w.pump(ctx)
		c.mu.Lock()
		delete(c.watchers, w)
		c.mu.Unlock()
	}()

	return w.ch
}

func (c *Controller) closeWatchers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := range c.watchers {
		w.close()
	}
}

type watcher struct {
	ch     chan State
	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	queue []State
}

func (w *watcher) enqueue(s State) {
	w.mu.Lock()
	w.queue = append(w.queue, s)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) close() {
	w.once.Do(func() { close(w.done) })
}

func (w *watcher) pump(ctx context.Context) {
	defer close(w.ch)

	for {
		w.mu.Lock()
		var (
			s  State
			ok bool
		)
		if len(w.queue) > 0 {
			s, ok = w.queue[0], true
			w.queue = w.queue[1:]
		}
		w.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-w.notify:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case w.ch <- s:
		}
	}
}
