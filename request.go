package inject

import (
	"bufio"
	"bytes"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/rotisserie/eris"

	"dqx0.com/go/inject/httpx"
	"dqx0.com/go/inject/internal/http1"
)

// ErrSimulated is returned by request body reads under Simulate.Error.
var ErrSimulated = eris.New("inject: simulated connection error")

// RequestOptions describes the request to inject.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	// URL is a path ("/a?b=c") or an absolute URL. Defaults to "/".
	URL string
	// Proto defaults to HTTP/1.1.
	Proto   string
	Headers map[string]string
	// Payload is the request body: a string, []byte or io.Reader is sent
	// as is, any other value is JSON encoded.
	Payload any
	// Authority is the Host used when URL is not absolute. Defaults to
	// "localhost".
	Authority string
	// RemoteAddr is the simulated peer. Defaults to "127.0.0.1:0".
	RemoteAddr string
}

func (ro RequestOptions) build(sim Simulate) (*httpx.Request, error) {
	method := strings.ToUpper(ro.Method)
	if method == "" {
		method = "GET"
	}
	raw := ro.URL
	if raw == "" {
		raw = "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "inject: parsing url %q", raw)
	}
	proto := ro.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	h := httpx.Header{}
	for k, v := range ro.Headers {
		h.Set(k, v)
	}
	host := u.Host
	if host == "" {
		host = h.Get("Host")
	}
	if host == "" {
		host = ro.Authority
	}
	if host == "" {
		host = "localhost"
	}
	if h.Get("Host") == "" {
		h.Set("Host", host)
	}
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", "inject")
	}

	body, length, contentType, err := encodePayload(ro.Payload)
	if err != nil {
		return nil, err
	}
	if contentType != "" && h.Get("Content-Type") == "" {
		h.Set("Content-Type", contentType)
	}
	switch {
	case body == nil:
		length = 0
	case length >= 0:
		if h.Get("Content-Length") == "" {
			h.Set("Content-Length", strconv.FormatInt(length, 10))
		}
	default:
		if h.Get("Transfer-Encoding") == "" {
			h.Set("Transfer-Encoding", "chunked")
		}
	}

	remote := ro.RemoteAddr
	if remote == "" {
		remote = "127.0.0.1:0"
	}
	return &httpx.Request{
		Method:        method,
		URL:           u,
		RequestURI:    u.RequestURI(),
		Proto:         proto,
		Header:        h,
		Body:          newRequestBody(body, length, sim),
		Host:          host,
		ContentLength: length,
		RemoteAddr:    remote,
		CorrelationID: h.Get("X-Request-Id"),
	}, nil
}

// encodePayload returns the body reader, its length (-1 if unknown) and the
// content type implied by the payload kind.
func encodePayload(p any) (io.Reader, int64, string, error) {
	switch v := p.(type) {
	case nil:
		return nil, 0, "", nil
	case string:
		return strings.NewReader(v), int64(len(v)), "", nil
	case []byte:
		return bytes.NewReader(v), int64(len(v)), "", nil
	case io.Reader:
		return v, -1, "", nil
	default:
		b, err := sonic.Marshal(v)
		if err != nil {
			return nil, 0, "", eris.Wrap(err, "inject: encoding payload")
		}
		return bytes.NewReader(b), int64(len(b)), "application/json", nil
	}
}

// requestBody applies Simulate faults to the payload reader.
type requestBody struct {
	r      io.Reader
	sim    Simulate
	half   int64
	reads  int
	done   bool
	once   sync.Once
	onDone func()
}

func newRequestBody(r io.Reader, length int64, sim Simulate) *requestBody {
	if r == nil {
		r = strings.NewReader("")
	}
	b := &requestBody{r: r, sim: sim, onDone: func() {}}
	if length > 0 {
		b.half = (length + 1) / 2
	}
	return b
}

func (b *requestBody) Read(p []byte) (int, error) {
	if b.done {
		return 0, b.endErr()
	}
	if b.sim.Split && b.reads == 0 && len(p) > 1 {
		limit := int64(len(p) / 2)
		if b.half > 0 {
			limit = b.half
		}
		if int64(len(p)) > limit {
			p = p[:limit]
		}
	}
	b.reads++
	n, err := b.r.Read(p)
	if err == io.EOF {
		b.done = true
		b.once.Do(b.onDone)
		return n, b.endErr()
	}
	return n, err
}

func (b *requestBody) endErr() error {
	if b.sim.Error {
		return ErrSimulated
	}
	return io.EOF
}

func (b *requestBody) Close() error { return nil }

// ReadRequest parses raw HTTP/1.x request text into RequestOptions. Chunked
// and Content-Length bodies are read fully into Payload.
func ReadRequest(r io.Reader) (RequestOptions, error) {
	rr := &http1.Reader{
		BR:                  bufio.NewReader(r),
		MaxHeaderBytes:      http1.DefaultMaxHeaderLine,
		MaxTotalHeaderBytes: http1.DefaultMaxHeaderBlock,
	}
	pr, err := rr.ReadRequest()
	if err != nil {
		if eris.Is(err, http1.ErrHeaderTooLong) || eris.Is(err, io.ErrShortBuffer) {
			return RequestOptions{}, eris.Wrapf(httpx.ErrHeaderTooLarge, "inject: %v", err)
		}
		return RequestOptions{}, eris.Wrapf(httpx.ErrBadRequest, "inject: %v", err)
	}
	defer pr.Body.Close()
	payload, err := io.ReadAll(pr.Body)
	if err != nil {
		return RequestOptions{}, eris.Wrapf(httpx.ErrBadRequest, "inject: reading body: %v", err)
	}
	headers := make(map[string]string, len(pr.Header))
	for k, vv := range pr.Header {
		switch k {
		case "Content-Length", "Transfer-Encoding":
			continue
		}
		headers[k] = strings.Join(vv, ", ")
	}
	ro := RequestOptions{
		Method:    pr.Method,
		URL:       pr.RequestURI,
		Proto:     pr.Proto,
		Headers:   headers,
		Authority: headers["Host"],
	}
	if len(payload) > 0 {
		ro.Payload = payload
	}
	return ro, nil
}
