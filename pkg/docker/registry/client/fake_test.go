package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// fakeTransport records every request and answers from a queue of canned
// responses, or from handler when the queue is empty.
type fakeTransport struct {
	mu        sync.Mutex
	requests  []*Request
	responses []fakeResponse
	handler   func(req *Request) (*Response, error)
}

type fakeResponse struct {
	res *Response
	err error
}

func newFakeTransport(responses ...*Response) *fakeTransport {
	f := &fakeTransport{}
	for _, res := range responses {
		f.responses = append(f.responses, fakeResponse{res: res})
	}
	return f
}

func (f *fakeTransport) queueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{err: err})
}

func (f *fakeTransport) Do(_ context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if len(f.responses) > 0 {
		next := f.responses[0]
		f.responses = f.responses[1:]
		f.mu.Unlock()
		return next.res, next.err
	}
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("unexpected request %s %s", req.Method, req.URL)
	}
	return handler(req)
}

func (f *fakeTransport) calls() []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Request(nil), f.requests...)
}

func (f *fakeTransport) callsTo(method, url string) int {
	n := 0
	for _, req := range f.calls() {
		if req.Method == method && req.URL == url {
			n++
		}
	}
	return n
}

func response(status int, body string) *Response {
	return &Response{StatusCode: status, Header: http.Header{}, Body: []byte(body)}
}

func challenge(header string) *Response {
	res := response(http.StatusUnauthorized, `{"errors":[{"code":"UNAUTHORIZED"}]}`)
	res.Header.Set(ChallengeHeader, header)
	return res
}
