// Package oauth authenticates with OAuth2 for conn.Controller.
//
// Login uses the device authorization flow,
// which suits command-line programs.
// Tokens are persisted in a JSON file
// so that a later process can Load the session.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/bobg/lds/conn"
)

// GoogleUserInfoURL is the default profile endpoint.
const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Provider implements conn.Authenticator and conn.ProfileFetcher.
type Provider struct {
	Config *oauth2.Config

	// TokenFile is where the session token is kept.
	TokenFile string

	// ProfileURL is fetched with the session's credentials
	// and must return a JSON object with id, name, and email fields.
	ProfileURL string

	// Prompt tells the user where to approve the login.
	// The default writes to stderr.
	Prompt func(*oauth2.DeviceAuthResponse)

	Logger logrus.FieldLogger
}

var (
	_ conn.Authenticator  = &Provider{}
	_ conn.ProfileFetcher = &Provider{}
)

// Google produces a Provider for Google accounts with the given client credentials.
// The scopes are added to the ones needed for the profile.
func Google(clientID, clientSecret, tokenFile string, scopes ...string) *Provider {
	return &Provider{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes: append([]string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			}, scopes...),
		},
		TokenFile:  tokenFile,
		ProfileURL: GoogleUserInfoURL,
	}
}

// Load implements conn.Authenticator.
// It returns nil if there is no token file.
func (p *Provider) Load(_ context.Context) (*conn.Session, error) {
	f, err := os.Open(p.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", p.TokenFile)
	}
	defer f.Close()

	var tok oauth2.Token
	if err = json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", p.TokenFile)
	}
	return &conn.Session{Token: &tok}, nil
}

// Login implements conn.Authenticator.
func (p *Provider) Login(ctx context.Context) (*conn.Session, error) {
	resp, err := p.Config.DeviceAuth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "starting device authorization")
	}
	p.prompt(resp)

	tok, err := p.Config.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, errors.Wrap(err, "awaiting device authorization")
	}
	if err = p.save(tok); err != nil {
		return nil, err
	}
	p.logger().Info("logged in")
	return &conn.Session{Token: tok}, nil
}

// Logout implements conn.Authenticator.
// It removes the token file.
func (p *Provider) Logout(_ context.Context, _ *conn.Session) error {
	err := os.Remove(p.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.Wrapf(err, "removing %s", p.TokenFile)
}

// Profile implements conn.ProfileFetcher.
func (p *Provider) Profile(ctx context.Context, s *conn.Session) (conn.Profile, error) {
	var prof conn.Profile

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return prof, errors.Wrap(err, "building profile request")
	}
	resp, err := p.Client(ctx, s).Do(req)
	if err != nil {
		return prof, errors.Wrap(err, "fetching profile")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return prof, errors.Errorf("fetching profile: status %d: %s", resp.StatusCode, body)
	}
	if err = json.NewDecoder(resp.Body).Decode(&prof); err != nil {
		return prof, errors.Wrap(err, "decoding profile")
	}
	if prof.ID == "" {
		return prof, errors.New("profile has no id")
	}
	return prof, nil
}

// TokenSource produces a token source for s
// that refreshes as needed
// and saves refreshed tokens to the token file.
func (p *Provider) TokenSource(ctx context.Context, s *conn.Session) oauth2.TokenSource {
	return &savingSource{
		p:    p,
		src:  p.Config.TokenSource(ctx, s.Token),
		last: s.Token.AccessToken,
	}
}

// Client produces an HTTP client authorized by s.
func (p *Provider) Client(ctx context.Context, s *conn.Session) *http.Client {
	return oauth2.NewClient(ctx, p.TokenSource(ctx, s))
}

type savingSource struct {
	p    *Provider
	src  oauth2.TokenSource
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.p.save(tok); err != nil {
			s.p.logger().WithError(err).Warn("saving refreshed token")
		}
	}
	return tok, nil
}

// save writes tok to a temp file and renames it over the token file.
func (p *Provider) save(tok *oauth2.Token) error {
	dir := filepath.Dir(p.TokenFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	f, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	if err = json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return errors.Wrap(err, "encoding token")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	return errors.Wrapf(os.Rename(tmpname, p.TokenFile), "renaming to %s", p.TokenFile)
}

func (p *Provider) prompt(resp *oauth2.DeviceAuthResponse) {
	if p.Prompt != nil {
		p.Prompt(resp)
		return
	}
	uri := resp.VerificationURIComplete
	if uri == "" {
		uri = resp.VerificationURI
	}
	fmt.Fprintf(os.Stderr, "Visit %s and enter code %s\n", uri, resp.UserCode)
}

func (p *Provider) logger() logrus.FieldLogger {
	l := p.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("component", "oauth")
}
