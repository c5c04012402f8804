package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/shipengqi/registry-api/pkg/metrics"
)

// tokens this close to their expiry are refreshed before use
const tokenExpiryLeeway = 5 * time.Second

// RequestOptions are the per-call extras of a registry request.
type RequestOptions struct {
	Header http.Header
	Body   []byte
}

// Requester sends registry requests with a bearer token and acquires a new
// token when the registry answers 401.
type Requester struct {
	transport Transport
	username  string
	apiKey    string
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.Mutex
	token   AuthToken
	authURL string

	fetches singleflight.Group
}

// RequesterOption configures a Requester.
type RequesterOption func(*Requester)

// WithAuthURL presets the token endpoint used when a 401 has no challenge header.
func WithAuthURL(authURL string) RequesterOption {
	return func(r *Requester) {
		r.authURL = authURL
	}
}

// WithMetrics makes the requester count requests and token exchanges.
func WithMetrics(m *metrics.Metrics) RequesterOption {
	return func(r *Requester) {
		r.metrics = m
	}
}

// withClock replaces time.Now.
func withClock(now func() time.Time) RequesterOption {
	return func(r *Requester) {
		r.now = now
	}
}

// NewRequester returns a requester that authenticates against token endpoints
// with username and apiKey.
func NewRequester(transport Transport, username, apiKey string, opts ...RequesterOption) *Requester {
	r := &Requester{
		transport: transport,
		username:  username,
		apiKey:    apiKey,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Token returns the current token.
func (r *Requester) Token() AuthToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// AuthURL returns the last known token endpoint.
func (r *Requester) AuthURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authURL
}

// Request is Do with token fetching enabled.
func (r *Requester) Request(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	return r.Do(ctx, method, path, opts, true)
}

// Do sends a request. When the registry answers 401 and allowTokenFetch is
// set, a new token is fetched and the request is retried once; the retried
// response is returned as is, even when it is another 401.
func (r *Requester) Do(ctx context.Context, method, path string, opts *RequestOptions, allowTokenFetch bool) (*Response, error) {
	if allowTokenFetch && r.tokenExpired() && r.AuthURL() != "" {
		logrus.WithField("path", path).Debug("Bearer token expired, refreshing")
		if err := r.FetchToken(ctx, nil); err != nil {
			return nil, err
		}
	}

	res, err := r.send(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusUnauthorized && allowTokenFetch {
		logrus.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Debug("Registry rejected token, fetching a new one")
		if err := r.FetchToken(ctx, res); err != nil {
			return nil, err
		}
		return r.Do(ctx, method, path, opts, false)
	}
	return res, nil
}

func (r *Requester) send(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	req := &Request{Method: method, URL: path, Header: http.Header{}}
	if opts != nil {
		for k, vs := range opts.Header {
			req.Header[k] = append([]string(nil), vs...)
		}
		req.Body = opts.Body
	}
	req.Header.Set("Authorization", "Bearer "+r.Token().Value)

	res, err := r.transport.Do(ctx, req)
	if err != nil && errors.Is(err, TimeoutErr) {
		logrus.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Debug("Request timed out, retrying once")
		res, err = r.transport.Do(ctx, req)
	}
	if err != nil {
		r.metrics.Request(method, 0)
		return nil, err
	}
	r.metrics.Request(method, res.StatusCode)
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": res.StatusCode,
	}).Debug("Registry responded")
	return res, nil
}

// FetchToken exchanges the configured credentials for a bearer token. The
// token endpoint comes from the challenge header of res when present, and
// from the last known endpoint otherwise. Concurrent calls for the same
// endpoint share one exchange.
func (r *Requester) FetchToken(ctx context.Context, res *Response) error {
	var authURL string
	if res != nil {
		if header := res.Header.Get(ChallengeHeader); header != "" {
			challenge, err := ParseChallenge(header)
			if err != nil {
				return err
			}
			authURL = challenge.AuthURL()
			r.mu.Lock()
			r.authURL = authURL
			r.mu.Unlock()
		}
	}
	if authURL == "" {
		authURL = r.AuthURL()
	}
	if authURL == "" {
		return errors.Wrap(AuthURLUnavailableErr, "attempted to auth with no auth url set")
	}

	_, err, _ := r.fetches.Do(authURL, func() (interface{}, error) {
		return nil, r.exchange(ctx, authURL)
	})
	return err
}

func (r *Requester) exchange(ctx context.Context, authURL string) error {
	u, err := url.Parse(authURL)
	if err != nil {
		r.metrics.TokenExchange(false)
		return errors.Wrapf(TokenExchangeFailedErr, "parse auth url %q: %v", authURL, err)
	}
	u.RawQuery = u.Query().Encode()

	req := &Request{
		Method:   http.MethodGet,
		URL:      u.String(),
		Header:   http.Header{"Accept": []string{"application/json"}},
		Username: r.username,
		Password: r.apiKey,
	}
	logrus.WithFields(logrus.Fields{
		"url":         req.URL,
		"credentials": r.username != "",
	}).Debug("Requesting bearer token")

	res, err := r.transport.Do(ctx, req)
	if err != nil {
		r.metrics.TokenExchange(false)
		return errors.Wrap(err, "token exchange")
	}
	if !res.IsSuccess() {
		r.metrics.TokenExchange(false)
		return errors.Wrapf(TokenExchangeFailedErr, "token endpoint returned status %d", res.StatusCode)
	}

	tr := &TokenResponse{}
	if err := json.Unmarshal(res.Body, tr); err != nil {
		r.metrics.TokenExchange(false)
		return errors.Wrapf(TokenExchangeFailedErr, "decode token response: %v", err)
	}
	value := tr.AccessToken
	if value == "" {
		value = tr.Token
	}
	if value == "" {
		r.metrics.TokenExchange(false)
		return errors.Wrap(TokenExchangeFailedErr, "token response has no access_token")
	}

	token := AuthToken{Value: value}
	if tr.ExpiresIn > 0 {
		issued := r.now()
		if t, err := time.Parse(time.RFC3339, tr.IssuedAt); err == nil {
			issued = t
		}
		token.ExpiresAt = issued.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
	r.metrics.TokenExchange(true)
	logrus.WithField("expires_at", token.ExpiresAt).Debug("Stored bearer token")
	return nil
}

func (r *Requester) tokenExpired() bool {
	t := r.Token()
	if t.Value == "" || t.ExpiresAt.IsZero() {
		return false
	}
	return !r.now().Add(tokenExpiryLeeway).Before(t.ExpiresAt)
}
