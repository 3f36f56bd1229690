package inject

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"dqx0.com/go/inject/httpx"
	"dqx0.com/go/inject/internal/http1"
)

// State is the position of a response cycle in its delivery lifecycle.
type State int32

const (
	StatePending State = iota
	StateFinalizing
	StateDelivered
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFinalizing:
		return "finalizing"
	case StateDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// Fields the head serializer adds on its own. They are read back from the
// serialized head so results show them even when the handler never set them.
var implicitFields = []struct {
	name string
	re   *regexp.Regexp
}{
	{"Date", regexp.MustCompile(`\r\nDate: ([^\r]*)\r\n`)},
	{"Connection", regexp.MustCompile(`\r\nConnection: ([^\r]*)\r\n`)},
	{"Transfer-Encoding", regexp.MustCompile(`\r\nTransfer-Encoding: ([^\r]*)\r\n`)},
}

// Response is the synthetic response a handler writes into. The head and
// body are framed exactly as they would be on an HTTP/1.1 connection and
// written to an in-memory sink; nothing reaches the network.
//
// Response implements httpx.ResponseWriter, httpx.HeadWriter,
// httpx.TrailerWriter, httpx.Flusher and httpx.Ender.
type Response struct {
	req    *httpx.Request
	log    *zerolog.Logger
	sink   *sink
	bw     *bufio.Writer
	stream bool
	header httpx.Header
	fin    func()
	state  atomic.Int32

	mu        sync.Mutex
	recorded  httpx.Header
	status    int
	message   string
	head      []byte
	wroteHead bool
	chunked   bool
	bodyless  bool
	keepAlive bool
	trailers  map[string]string
	ended     bool
	err       error
}

func newResponse(req *httpx.Request, log *zerolog.Logger, stream bool) *Response {
	s := newSink()
	return &Response{
		req:      req,
		log:      log,
		sink:     s,
		bw:       bufio.NewWriter(s),
		stream:   stream,
		header:   httpx.Header{},
		trailers: map[string]string{},
		fin:      func() {},
	}
}

// Header returns the header map that WriteHeader will send.
func (r *Response) Header() httpx.Header {
	return r.header
}

// WriteHeader sends the head with the standard reason phrase.
func (r *Response) WriteHeader(status int) {
	r.WriteHead(status, "", nil)
}

// WriteHead sends the head. message overrides the reason phrase and headers
// are merged over Header(), replacing values for the same name. Only the
// first call has an effect.
func (r *Response) WriteHead(status int, message string, headers httpx.Header) {
	r.mu.Lock()
	if r.wroteHead {
		r.mu.Unlock()
		r.log.Warn().Int("status", status).Msg("superfluous WriteHead call")
		return
	}
	r.writeHeadLocked(status, message, headers)
	r.mu.Unlock()
	if r.stream {
		r.fin()
	}
}

func (r *Response) writeHeadLocked(status int, message string, headers httpx.Header) {
	if status == 0 {
		status = 200
	}
	for k, vv := range headers {
		r.header.Del(k)
		for _, v := range vv {
			r.header.Add(k, v)
		}
	}
	if message == "" {
		message = http1.Reason(status)
	}
	r.status = status
	r.message = message
	r.bodyless = httpx.NoResponseBody(status, r.req.Method)
	r.keepAlive = r.decideKeepAlive()
	r.chunked = r.decideChunked()

	var buf bytes.Buffer
	hw := bufio.NewWriter(&buf)
	_ = http1.StartResponse(hw, http1.Head{
		Status:    status,
		Reason:    message,
		Header:    map[string][]string(r.header),
		Chunked:   r.chunked,
		KeepAlive: r.keepAlive,
	})
	_ = hw.Flush()
	r.head = buf.Bytes()
	r.recorded = recordHeaders(r.header, r.head)
	r.wroteHead = true
	_, _ = r.sink.Write(r.head)
}

func (r *Response) decideKeepAlive() bool {
	if strings.EqualFold(r.header.Get("Connection"), "close") {
		return false
	}
	conn := strings.ToLower(r.req.Header.Get("Connection"))
	if r.req.Proto == "HTTP/1.0" {
		return conn == "keep-alive"
	}
	return conn != "close"
}

func (r *Response) decideChunked() bool {
	if r.bodyless {
		return false
	}
	if http1.HasChunkedTE(map[string][]string(r.header)) {
		return true
	}
	if r.header.Get("Content-Length") != "" {
		return false
	}
	return r.req.Proto == "HTTP/1.1" && r.keepAlive
}

// recordHeaders merges the implicit fields found in head over h. The head
// is authoritative for those fields, so one missing from it is removed.
func recordHeaders(h httpx.Header, head []byte) httpx.Header {
	out := h.Clone()
	for _, f := range implicitFields {
		if m := f.re.FindSubmatch(head); m != nil {
			out.Set(f.name, string(m[1]))
		} else {
			out.Del(f.name)
		}
	}
	return out
}

// Write frames p as body bytes. It reports len(p) even though nothing
// consumes the bytes yet; a capture has no reader to push back. Bytes for a
// HEAD request or a 1xx, 204 or 304 status are discarded.
func (r *Response) Write(p []byte) (int, error) {
	r.mu.Lock()
	wrote := false
	if !r.wroteHead && !r.ended {
		r.writeHeadLocked(200, "", nil)
		wrote = true
	}
	n, err := r.writeBodyLocked(p)
	r.mu.Unlock()
	if wrote && r.stream {
		r.fin()
	}
	return n, err
}

func (r *Response) writeBodyLocked(p []byte) (int, error) {
	if r.ended {
		r.log.Warn().Int("bytes", len(p)).Msg("write after end")
		return 0, httpx.ErrWriteAfterEnd
	}
	if r.bodyless {
		r.log.Debug().Int("status", r.status).Int("bytes", len(p)).Msg("body discarded")
		return len(p), nil
	}
	if r.chunked {
		_, _ = http1.WriteChunked(r.bw, p)
	} else {
		_, _ = r.bw.Write(p)
	}
	_ = r.bw.Flush()
	return len(p), nil
}

// AddTrailers records trailers to send after the body. Names are lower-cased
// and trimmed, values trimmed. Later calls override earlier values.
func (r *Response) AddTrailers(trailers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		r.log.Warn().Int("trailers", len(trailers)).Msg("trailers added after end")
		return
	}
	for k, v := range trailers {
		k, v = http1.NormalizeTrailer(k, v)
		r.trailers[k] = v
	}
}

// Flush sends the head if it has not been written yet.
func (r *Response) Flush() error {
	r.mu.Lock()
	wrote := false
	if !r.wroteHead && !r.ended {
		r.writeHeadLocked(200, "", nil)
		wrote = true
	}
	err := r.bw.Flush()
	r.mu.Unlock()
	if wrote && r.stream {
		r.fin()
	}
	return err
}

// End finishes the response: the head is sent if needed, chunked framing is
// terminated with the recorded trailers and the sink is closed. Further
// calls do nothing.
func (r *Response) End() {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	if !r.wroteHead {
		r.writeHeadLocked(200, "", nil)
	}
	if r.chunked {
		_ = http1.EndChunked(r.bw, r.trailers)
	}
	_ = r.bw.Flush()
	r.ended = true
	_ = r.sink.Close()
	r.mu.Unlock()
	r.fin()
}

// Close releases nothing; there is no transport behind the response. It
// is safe to call at any time, any number of times.
func (r *Response) Close() error {
	return nil
}

// State reports where the cycle is in pending → finalizing → delivered.
func (r *Response) State() State {
	return State(r.state.Load())
}

// Head returns the serialized status line and header block, or nil before
// the head is written.
func (r *Response) Head() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.head...)
}

// Ended reports whether End has run.
func (r *Response) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// fail records a handler failure. A 500 head is sent if none was.
func (r *Response) fail(err error) {
	r.mu.Lock()
	r.err = err
	wrote := false
	if !r.wroteHead && !r.ended {
		r.writeHeadLocked(500, "", nil)
		wrote = true
	}
	r.mu.Unlock()
	if wrote && r.stream {
		r.fin()
	}
}

type snapshot struct {
	status   int
	message  string
	header   httpx.Header
	head     []byte
	chunked  bool
	trailers map[string]string
	err      error
}

func (r *Response) snapshot() snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot{
		status:   r.status,
		message:  r.message,
		header:   r.recorded.Clone(),
		head:     r.head,
		chunked:  r.chunked,
		trailers: r.trailerCopyLocked(),
		err:      r.err,
	}
}

func (r *Response) recordedTrailers() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trailerCopyLocked()
}

func (r *Response) trailerCopyLocked() map[string]string {
	out := make(map[string]string, len(r.trailers))
	for k, v := range r.trailers {
		out[k] = v
	}
	return out
}
