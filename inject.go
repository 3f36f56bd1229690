package inject

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"dqx0.com/go/inject/httpx"
	"dqx0.com/go/inject/internal/obs"
)

// cycle is one injected request and its synthetic response.
type cycle struct {
	req    *httpx.Request
	res    *Response
	cancel context.CancelFunc
}

func newCycle(ctx context.Context, ro RequestOptions, opts Options, onEnd func(*Result)) (*cycle, error) {
	if onEnd == nil {
		return nil, eris.New("inject: nil completion callback")
	}
	req, err := ro.build(opts.Simulate)
	if err != nil {
		return nil, err
	}
	req.RequestID = uuid.NewString()

	base := opts.Logger
	if base == nil {
		base = obs.Log(ctx)
	}
	logger := base.With().
		Str("req", req.RequestID).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Logger()

	ctx, cancel := context.WithCancel(ctx)
	ctx = obs.WithLogger(ctx, &logger)
	ctx = httpx.WithRequestID(ctx, req.RequestID)
	if req.CorrelationID != "" {
		ctx = httpx.WithCorrelationID(ctx, req.CorrelationID)
	}
	req = httpx.WithContext(req, ctx)
	if body, ok := req.Body.(*requestBody); ok && opts.Simulate.Close {
		body.onDone = cancel
	}

	res := newResponse(req, &logger, opts.Stream)
	d := &dispatcher{
		req:   req,
		res:   res,
		raw:   opts.Raw,
		log:   &logger,
		meter: opts.meter(),
		onEnd: onEnd,
	}
	res.fin = d.finalize
	return &cycle{req: req, res: res, cancel: cancel}, nil
}

// serve runs the handler and ends the response once it returns. The
// request context is cancelled afterwards, as a server would on return.
func (c *cycle) serve(h httpx.Handler) {
	defer c.cancel()
	defer c.res.End()
	defer c.recoverPanic()
	h.ServeHTTP(c.res, c.req)
}

func (c *cycle) recoverPanic() {
	p := recover()
	if p == nil {
		return
	}
	err, ok := p.(error)
	if ok {
		err = eris.Wrap(err, "inject: handler panicked")
	} else {
		err = eris.Errorf("inject: handler panicked: %v", p)
	}
	c.res.log.Error().Err(err).Msg("recovered handler panic")
	c.res.fail(err)
}

// Inject runs h against the request described by ro on the calling
// goroutine. onEnd receives the Result exactly once, on another goroutine,
// after the response is finalized: when the handler ends the response in
// buffered mode, or when the head is written with opts.Stream. The returned
// error only reports a request that could not be built; h is not run then.
func Inject(ctx context.Context, h httpx.Handler, ro RequestOptions, opts Options, onEnd func(*Result)) error {
	c, err := newCycle(ctx, ro, opts, onEnd)
	if err != nil {
		return err
	}
	c.serve(h)
	return nil
}

// Do injects the request with h running on its own goroutine and waits for
// the Result or for ctx to be done. Abandoning the wait does not stop the
// handler; it only sees its request context cancelled.
func Do(ctx context.Context, h httpx.Handler, ro RequestOptions, opts Options) (*Result, error) {
	done := make(chan *Result, 1)
	c, err := newCycle(ctx, ro, opts, func(r *Result) { done <- r })
	if err != nil {
		return nil, err
	}
	go c.serve(h)
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "inject: waiting for response")
	}
}

// DoAll injects every request concurrently, at most limit at a time when
// limit > 0. Each request gets its own isolated cycle. Results keep the
// order of ros; the first failure cancels the rest.
func DoAll(ctx context.Context, h httpx.Handler, ros []RequestOptions, opts Options, limit int) ([]*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	out := make([]*Result, len(ros))
	for i, ro := range ros {
		i, ro := i, ro
		g.Go(func() error {
			r, err := Do(gctx, h, ro, opts)
			if err != nil {
				return eris.Wrapf(err, "inject: request %d", i)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
