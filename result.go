package inject

import (
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"dqx0.com/go/inject/httpx"
	"dqx0.com/go/inject/internal/http1"
)

// Result describes what a handler produced for one injected request. It is
// created once per cycle and must not be modified after delivery.
type Result struct {
	StatusCode    int               `json:"statusCode"`
	StatusMessage string            `json:"statusMessage"`
	Headers       httpx.Header      `json:"headers"`
	Trailers      map[string]string `json:"trailers"`
	Payload       string            `json:"payload"`
	RawPayload    []byte            `json:"rawPayload"`
	// Truncated is set when chunked framing was malformed and the body
	// ends at the last frame that could be decoded.
	Truncated bool `json:"truncated,omitempty"`
	// Stream replaces Payload and RawPayload when Options.Stream is set.
	Stream *Stream `json:"-"`
	Raw    Raw     `json:"-"`
	// Err carries a recovered handler panic.
	Err error `json:"-"`
}

// Raw exposes the objects behind a Result for advanced inspection.
type Raw struct {
	Req *httpx.Request
	Res *Response
	// Wire holds every byte written to the sink. Empty in streaming mode.
	Wire []byte
}

// Stream is a live view of the response body. Bytes arrive in the order the
// handler wrote them; Read blocks until more are written or the response
// ends.
type Stream struct {
	r       io.Reader
	cr      *http1.ChunkedReader
	res     *Response
	log     *zerolog.Logger
	warn    sync.Once
	mu      sync.Mutex
	closed  bool
	reached bool
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	n, err := s.r.Read(p)
	s.mu.Lock()
	closed = s.closed
	if err == io.EOF && !closed {
		s.reached = true
	}
	s.mu.Unlock()
	if closed {
		return n, io.EOF
	}
	if err == io.EOF && s.cr != nil && s.cr.Truncated() {
		s.warn.Do(func() {
			s.log.Warn().Msg("chunked framing ended early; body truncated")
		})
	}
	return n, err
}

// Close stops reading and wakes a Read blocked waiting for the handler. The
// handler keeps writing into memory unaffected.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.res.sink.closeRead()
	return nil
}

// Truncated reports whether the body ended at malformed chunked framing.
// Meaningful once Read has returned io.EOF; a closed stream is not
// truncated.
func (s *Stream) Truncated() bool {
	s.mu.Lock()
	reached := s.reached
	s.mu.Unlock()
	return reached && s.cr != nil && s.cr.Truncated()
}

// Trailers returns decoded and recorded trailers. It is complete once Read
// has returned io.EOF; recorded trailers win over decoded ones.
func (s *Stream) Trailers() map[string]string {
	out := map[string]string{}
	s.mu.Lock()
	reached := s.reached
	s.mu.Unlock()
	if reached && s.cr != nil {
		out = s.cr.Trailer()
	}
	mergeTrailers(out, s.res.recordedTrailers())
	return out
}

// mergeTrailers copies recorded over decoded; recorded values win.
func mergeTrailers(decoded, recorded map[string]string) {
	for k, v := range recorded {
		decoded[k] = v
	}
}

// decodeText is the UTF-8 reading of b; invalid sequences become U+FFFD.
func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
