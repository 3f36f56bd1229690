package inject

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"dqx0.com/go/inject/httpx"
	"dqx0.com/go/inject/internal/http1"
	"dqx0.com/go/inject/internal/obs"
)

// dispatcher turns a finished Response into a Result and hands it to the
// callback exactly once, always from a goroutine of its own so the
// handler's End or WriteHead call has returned before the callback runs.
type dispatcher struct {
	once  sync.Once
	req   *httpx.Request
	res   *Response
	raw   bool
	log   *zerolog.Logger
	meter obs.Meter
	onEnd func(*Result)
}

func (d *dispatcher) finalize() {
	d.once.Do(func() {
		d.res.state.Store(int32(StateFinalizing))
		go d.deliver()
	})
}

func (d *dispatcher) deliver() {
	var (
		out  *Result
		mode string
	)
	if d.res.stream {
		mode = "stream"
		out = d.assembleStream()
	} else {
		mode = "buffered"
		out = d.assembleBuffered()
		d.meter.Histogram("inject.payload_bytes", float64(len(out.RawPayload)))
	}
	d.meter.Counter("inject.responses", 1, obs.Label{Key: "mode", Value: mode})
	d.log.Debug().
		Str("mode", mode).
		Int("status", out.StatusCode).
		Int64("wire_bytes", d.res.sink.Size()).
		Msg("response delivered")
	d.res.state.Store(int32(StateDelivered))
	d.onEnd(out)
}

func (d *dispatcher) newResult(s snapshot) *Result {
	return &Result{
		StatusCode:    s.status,
		StatusMessage: s.message,
		Headers:       s.header,
		Trailers:      map[string]string{},
		Raw:           Raw{Req: d.req, Res: d.res},
		Err:           s.err,
	}
}

// assembleBuffered drains the closed sink and decodes the body block.
func (d *dispatcher) assembleBuffered() *Result {
	wire, err := readStream(d.res.sink)
	if err != nil {
		d.log.Error().Err(err).Msg("draining capture failed")
	}
	s := d.res.snapshot()
	out := d.newResult(s)
	out.Raw.Wire = wire

	_, block := http1.SplitHead(wire)
	switch {
	case d.raw:
		out.RawPayload = bytes.Clone(block)
	case http1.HasChunkedTE(map[string][]string(s.header)):
		body := http1.DecodeChunked(block)
		out.RawPayload = body.Payload
		out.Trailers = body.Trailers
		out.Truncated = body.Truncated
		if body.Truncated {
			d.log.Warn().Int("decoded", len(body.Payload)).Msg("chunked framing ended early; body truncated")
		}
	default:
		out.RawPayload = bytes.Clone(block)
	}
	if out.RawPayload == nil {
		out.RawPayload = []byte{}
	}
	mergeTrailers(out.Trailers, s.trailers)
	if !d.raw {
		out.Payload = decodeText(out.RawPayload)
	}
	return out
}

// assembleStream attaches a live reader positioned after the head.
func (d *dispatcher) assembleStream() *Result {
	s := d.res.snapshot()
	out := d.newResult(s)

	br := bufio.NewReader(d.res.sink)
	if _, err := br.Discard(len(s.head)); err != nil {
		d.log.Error().Err(err).Msg("skipping captured head failed")
	}
	st := &Stream{r: br, res: d.res, log: d.log}
	if s.chunked && !d.raw {
		st.cr = http1.NewLenientChunkedReader(br, 0)
		st.r = st.cr
	}
	out.Stream = st
	return out
}

var _ io.ReadCloser = (*Stream)(nil)
