package httpx

import (
	"context"
	"io"
	"net/url"
)

// Request represents an HTTP request.
//
// Fields are a subset tailored for HTTP/1.1. Body is an io.ReadCloser.
// ContentLength is -1 when unknown. Context can be set via WithContext.
type Request struct {
	Method        string
	URL           *url.URL
	RequestURI    string
	Proto         string
	Header        Header
	Body          io.ReadCloser
	Host          string
	ContentLength int64
	// RemoteAddr is the simulated peer address, "host:port".
	RemoteAddr string
	ctx        context.Context
	// RequestID is the generated identifier for this request.
	RequestID string
	// CorrelationID is a propagated ID from the peer (X-Request-ID).
	CorrelationID string
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}
