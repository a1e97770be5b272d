// Package conn tracks the lifecycle of a session with a remote service
// and decides when syncing is allowed.
//
// The lifecycle is a state machine.
// Transition is its pure step function:
// it maps a State and an Action to a new State and a list of Effects.
// A Controller owns the current State,
// performs the Effects,
// and feeds their outcomes back in as Actions.
package conn

import (
	"fmt"

	"golang.org/x/oauth2"

	"github.com/bobg/lds/remote"
)

// Unclaimed names the repository used when no account is logged in.
const Unclaimed = "unclaimed"

// Session is an authenticated session with the remote service.
type Session struct {
	Token *oauth2.Token
}

// Profile describes the account behind a Session.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// State is one of
// Idle, Ready, LoggingIn, ProfileRetrieving, Logged, LoggingOut, LoadingError, LoggingInError.
type State interface {
	fmt.Stringer
	state()
}

type (
	// Idle is the initial state.
	// Loading is true while a stored session is being looked up.
	Idle struct{ Loading bool }

	// Ready means there is no session and login may begin.
	Ready struct{}

	// LoggingIn means authentication is in progress.
	LoggingIn struct{}

	// ProfileRetrieving means a session exists
	// and the account profile is being fetched.
	ProfileRetrieving struct{ Session *Session }

	// Logged is the only state in which syncing is allowed.
	// Repository names the active repository,
	// which starts out as the one belonging to Profile.
	Logged struct {
		Session    *Session
		Profile    Profile
		Drive      remote.Drive
		Repository string
	}

	// LoggingOut means the session is being torn down.
	LoggingOut struct{}

	// LoadingError means looking up a stored session failed.
	LoadingError struct{ Err error }

	// LoggingInError means authentication or profile retrieval failed.
	LoggingInError struct{ Err error }
)

func (Idle) state()              {}
func (Ready) state()             {}
func (LoggingIn) state()         {}
func (ProfileRetrieving) state() {}
func (Logged) state()            {}
func (LoggingOut) state()        {}
func (LoadingError) state()      {}
func (LoggingInError) state()    {}

func (s Idle) String() string {
	if s.Loading {
		return "idle(loading)"
	}
	return "idle"
}
func (Ready) String() string             { return "ready" }
func (LoggingIn) String() string         { return "loggingIn" }
func (ProfileRetrieving) String() string { return "profileRetrieving" }
func (LoggingOut) String() string        { return "loggingOut" }
func (s LoadingError) String() string    { return fmt.Sprintf("loadingError(%v)", s.Err) }
func (s LoggingInError) String() string  { return fmt.Sprintf("loggingInError(%v)", s.Err) }

func (s Logged) String() string {
	if s.Repository == s.Profile.ID {
		return fmt.Sprintf("logged(%s)", s.Profile.ID)
	}
	return fmt.Sprintf("logged(%s, repository %s)", s.Profile.ID, s.Repository)
}

// Action is an input to the state machine.
type Action interface {
	action()
}

type (
	// Load asks for a stored session to be looked up.
	Load struct{}

	// Loaded reports the outcome of a lookup.
	// Session is nil if there was no stored session.
	Loaded struct{ Session *Session }

	LoadFailed struct{ Err error }

	// Login asks for authentication to begin.
	Login struct{}

	LoginSucceeded struct{ Session *Session }

	LoginFailed struct{ Err error }

	// ProfileRetrieved carries the account profile
	// and the drive built for the session.
	ProfileRetrieved struct {
		Profile Profile
		Drive   remote.Drive
	}

	ProfileFailed struct{ Err error }

	// Logout asks for the session to end.
	Logout struct{}

	// LoggedOut reports that sign-out finished.
	LoggedOut struct{}

	// Retry leaves an error state.
	Retry struct{}

	// SwitchRepository makes another repository the active one.
	SwitchRepository struct{ Repository string }
)

func (Load) action()             {}
func (Loaded) action()           {}
func (LoadFailed) action()       {}
func (Login) action()            {}
func (LoginSucceeded) action()   {}
func (LoginFailed) action()      {}
func (ProfileRetrieved) action() {}
func (ProfileFailed) action()    {}
func (Logout) action()           {}
func (LoggedOut) action()        {}
func (Retry) action()            {}
func (SwitchRepository) action() {}

// Effect is work for a Controller to do on a transition.
type Effect interface {
	effect()
}

type (
	// LoadSession looks up a stored session
	// and produces Loaded or LoadFailed.
	LoadSession struct{}

	// Authenticate runs the login flow
	// and produces LoginSucceeded or LoginFailed.
	Authenticate struct{}

	// FetchProfile retrieves the profile and builds the drive for Session,
	// producing ProfileRetrieved or ProfileFailed.
	FetchProfile struct{ Session *Session }

	// SignOut ends Session and produces LoggedOut.
	SignOut struct{ Session *Session }

	// CancelSync cancels any sync in progress and waits for it to stop.
	CancelSync struct{}
)

func (LoadSession) effect()  {}
func (Authenticate) effect() {}
func (FetchProfile) effect() {}
func (SignOut) effect()      {}
func (CancelSync) effect()   {}

// ActiveRepository names the repository that s makes active:
// the Logged state's Repository,
// or Unclaimed in every other state.
func ActiveRepository(s State) string {
	if l, ok := s.(Logged); ok && l.Repository != "" {
		return l.Repository
	}
	return Unclaimed
}

// Transition computes the successor of s on a.
// Pairs with no defined transition leave s unchanged and produce no effects.
func Transition(s State, a Action) (State, []Effect) {
	next, effects, _ := transition(s, a)
	return next, effects
}

// transition is Transition plus a report of whether the pair was defined.
func transition(s State, a Action) (State, []Effect, bool) {
	switch s := s.(type) {
	case Idle:
		switch a := a.(type) {
		case Load:
			if !s.Loading {
				return Idle{Loading: true}, []Effect{LoadSession{}}, true
			}
		case Loaded:
			if s.Loading {
				if a.Session == nil {
					return Ready{}, nil, true
				}
				return ProfileRetrieving{Session: a.Session}, []Effect{FetchProfile{Session: a.Session}}, true
			}
		case LoadFailed:
			if s.Loading {
				return LoadingError{Err: a.Err}, nil, true
			}
		}

	case Ready:
		if _, ok := a.(Login); ok {
			return LoggingIn{}, []Effect{Authenticate{}}, true
		}

	case LoggingIn:
		switch a := a.(type) {
		case LoginSucceeded:
			return ProfileRetrieving{Session: a.Session}, []Effect{FetchProfile{Session: a.Session}}, true
		case LoginFailed:
			return LoggingInError{Err: a.Err}, nil, true
		}

	case ProfileRetrieving:
		switch a := a.(type) {
		case ProfileRetrieved:
			return Logged{Session: s.Session, Profile: a.Profile, Drive: a.Drive, Repository: a.Profile.ID}, nil, true
		case ProfileFailed:
			return LoggingInError{Err: a.Err}, nil, true
		}

	case Logged:
		switch a := a.(type) {
		case Logout:
			return LoggingOut{}, []Effect{CancelSync{}, SignOut{Session: s.Session}}, true
		case SwitchRepository:
			if a.Repository != "" && a.Repository != s.Repository {
				next := s
				next.Repository = a.Repository
				return next, []Effect{CancelSync{}}, true
			}
		}

	case LoggingOut:
		if _, ok := a.(LoggedOut); ok {
			return Ready{}, nil, true
		}

	case LoadingError:
		if _, ok := a.(Retry); ok {
			return Ready{}, nil, true
		}

	case LoggingInError:
		if _, ok := a.(Retry); ok {
			return Ready{}, nil, true
		}
	}

	return s, nil, false
}
