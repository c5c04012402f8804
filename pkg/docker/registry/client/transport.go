package client

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/ratelimit"
)

// Request is a single HTTP call issued through a Transport.
type Request struct {
	Method string
	// URL is either a path relative to the registry or an absolute URL.
	URL    string
	Header http.Header
	Body   []byte

	// Username and Password, when set, are sent as HTTP basic auth.
	Username string
	Password string
}

// Response carries whatever the server answered, including error statuses.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the status is 2xx.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport issues HTTP requests. Non-2xx statuses are not errors.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// RestyTransport is a Transport backed by a resty client.
type RestyTransport struct {
	*resty.Client

	limiter ratelimit.Limiter
}

// NewRestyTransport returns a transport rooted at baseURL. A rate of zero
// disables rate limiting.
func NewRestyTransport(baseURL string, timeout time.Duration, rate int) *RestyTransport {
	t := &RestyTransport{Client: resty.New(), limiter: ratelimit.NewUnlimited()}
	t.SetBaseURL(baseURL)
	if timeout > 0 {
		t.SetTimeout(timeout)
	}
	if rate > 0 {
		t.limiter = ratelimit.New(rate)
	}
	return t
}

func (t *RestyTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	t.limiter.Take()

	r := t.R().SetContext(ctx)
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	if req.Username != "" || req.Password != "" {
		r.SetBasicAuth(req.Username, req.Password)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(req.Method, req.URL)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, errors.Wrapf(TimeoutErr, "%s %s: %v", req.Method, req.URL, err)
		}
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL)
	}
	return &Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
	}, nil
}

// isTimeout reports whether err is a timeout the caller did not ask for.
func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
