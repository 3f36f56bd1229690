package inject

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"dqx0.com/go/inject/httpx"
	"dqx0.com/go/inject/internal/obs"
)

func do(t *testing.T, h httpx.HandlerFunc, ro RequestOptions, opts Options) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := Do(ctx, h, ro, opts)
	require.NoError(t, err)
	return res
}

func TestHeadShapes(t *testing.T) {
	cases := []struct {
		name    string
		write   func(w httpx.ResponseWriter)
		status  int
		message string
		headers map[string]string
	}{
		{
			name:    "code",
			write:   func(w httpx.ResponseWriter) { w.WriteHeader(201) },
			status:  201,
			message: "Created",
		},
		{
			name:    "code and message",
			write:   func(w httpx.ResponseWriter) { w.(httpx.HeadWriter).WriteHead(202, "Queued", nil) },
			status:  202,
			message: "Queued",
		},
		{
			name: "code and headers",
			write: func(w httpx.ResponseWriter) {
				w.(httpx.HeadWriter).WriteHead(200, "", httpx.Header{"X-A": {"1"}})
			},
			status:  200,
			message: "OK",
			headers: map[string]string{"x-a": "1"},
		},
		{
			name: "code, message and headers",
			write: func(w httpx.ResponseWriter) {
				w.(httpx.HeadWriter).WriteHead(299, "Custom", httpx.Header{"x-b": {"2"}})
			},
			status:  299,
			message: "Custom",
			headers: map[string]string{"X-B": "2"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
				w.Header().Set("X-Preset", "yes")
				c.write(w)
				w.Write([]byte("body"))
			}, RequestOptions{}, Options{})

			require.Equal(t, c.status, res.StatusCode)
			require.Equal(t, c.message, res.StatusMessage)
			require.Equal(t, "yes", res.Headers.Get("x-preset"))
			for k, v := range c.headers {
				require.Equal(t, v, res.Headers.Get(k))
			}
			require.NotEmpty(t, res.Headers.Get("date"))
			require.Equal(t, "keep-alive", res.Headers.Get("connection"))
			require.Equal(t, "chunked", res.Headers.Get("TRANSFER-ENCODING"))
			require.Equal(t, "body", res.Payload)
		})
	}
}

func TestBodyChunksConcatenate(t *testing.T) {
	chunks := [][]byte{[]byte("a"), []byte("bc"), {}, {0xff, 0xfe}, []byte("d\r\n0\r\n\r\ne")}
	var want []byte
	for _, c := range chunks {
		want = append(want, c...)
	}
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		for _, c := range chunks {
			n, err := w.Write(c)
			require.NoError(t, err)
			require.Equal(t, len(c), n)
		}
	}, RequestOptions{}, Options{})

	require.Equal(t, want, res.RawPayload)
	require.Equal(t, strings.ToValidUTF8(string(want), "\uFFFD"), res.Payload)
	require.False(t, res.Truncated)
	require.Empty(t, res.Trailers)
}

func TestContentLengthBodyIsVerbatim(t *testing.T) {
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Header().Set("Content-Length", "5")
		w.Write([]byte("hello"))
	}, RequestOptions{}, Options{})

	require.Equal(t, []byte("hello"), res.RawPayload)
	require.Equal(t, "hello", res.Payload)
	require.Empty(t, res.Headers.Get("Transfer-Encoding"))
	require.Equal(t, "5", res.Headers.Get("Content-Length"))

	res.RawPayload[0] = 'J'
	require.True(t, bytes.HasSuffix(res.Raw.Wire, []byte("\r\n\r\nhello")))
}

func TestEmptyBody(t *testing.T) {
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Header().Set("Content-Length", "0")
	}, RequestOptions{}, Options{})

	require.NotNil(t, res.RawPayload)
	require.Empty(t, res.RawPayload)
	require.Equal(t, "", res.Payload)
}

func TestTrailersAfterBody(t *testing.T) {
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("hello"))
		w.(httpx.TrailerWriter).AddTrailers(map[string]string{"  X-Trailer ": "  v  ", "X-Other": "w"})
	}, RequestOptions{}, Options{})

	require.Equal(t, "hello", res.Payload)
	require.Equal(t, map[string]string{"x-trailer": "v", "x-other": "w"}, res.Trailers)
	require.Contains(t, string(res.Raw.Wire), "0\r\nx-other: w\r\nx-trailer: v\r\n\r\n")
}

func TestTrailersWithoutChunking(t *testing.T) {
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Header().Set("Content-Length", "2")
		w.Write([]byte("ok"))
		w.(httpx.TrailerWriter).AddTrailers(map[string]string{"X-T": "1"})
	}, RequestOptions{}, Options{})

	require.Equal(t, map[string]string{"x-t": "1"}, res.Trailers)
}

func TestRawOption(t *testing.T) {
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("hello"))
	}, RequestOptions{}, Options{Raw: true})

	require.Equal(t, "5\r\nhello\r\n0\r\n\r\n", string(res.RawPayload))
	require.Empty(t, res.Payload)

	res.RawPayload[0] = 'X'
	require.True(t, bytes.HasSuffix(res.Raw.Wire, []byte("\r\n\r\n5\r\nhello\r\n0\r\n\r\n")))
}

func TestHTTP10ResponseIsNotChunked(t *testing.T) {
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("hello"))
	}, RequestOptions{Proto: "HTTP/1.0"}, Options{})

	require.Equal(t, "close", res.Headers.Get("Connection"))
	require.Empty(t, res.Headers.Get("Transfer-Encoding"))
	require.Equal(t, "hello", res.Payload)
}

func TestConnectionCloseRequest(t *testing.T) {
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("bye"))
	}, RequestOptions{Headers: map[string]string{"connection": "close"}}, Options{})

	require.Equal(t, "close", res.Headers.Get("Connection"))
	require.Equal(t, "bye", res.Payload)
}

func TestCallbackExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	got := make(chan *Result, 2)
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("x"))
		w.(httpx.Ender).End()
		w.(httpx.Ender).End()
	})
	err := Inject(context.Background(), h, RequestOptions{}, Options{}, func(res *Result) {
		calls.Add(1)
		got <- res
	})
	require.NoError(t, err)

	select {
	case res := <-got:
		require.Equal(t, "x", res.Payload)
		require.Equal(t, StateDelivered, res.Raw.Res.State())
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
	}
	select {
	case <-got:
		t.Fatal("callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestCallbackIsAsynchronous(t *testing.T) {
	afterEnd := make(chan struct{})
	delivered := make(chan struct{})
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("x"))
		w.(httpx.Ender).End()
		// A callback running inside End would still be blocked here.
		close(afterEnd)
	})
	go func() {
		_ = Inject(context.Background(), h, RequestOptions{}, Options{}, func(*Result) {
			<-afterEnd
			close(delivered)
		})
	}()
	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("callback ran synchronously inside End")
	}
}

func TestStreamMatchesBuffered(t *testing.T) {
	chunks := []string{"alpha ", "", "beta ", strings.Repeat("z", 10000), " gamma"}
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		for _, c := range chunks {
			w.Write([]byte(c))
			w.(httpx.Flusher).Flush()
		}
		w.(httpx.TrailerWriter).AddTrailers(map[string]string{"X-Count": "5"})
	})

	buffered := do(t, h, RequestOptions{}, Options{})
	streamed := do(t, h, RequestOptions{}, Options{Stream: true})

	require.NotNil(t, streamed.Stream)
	body, err := io.ReadAll(streamed.Stream)
	require.NoError(t, err)
	require.Equal(t, buffered.RawPayload, body)
	require.False(t, streamed.Stream.Truncated())
	require.Equal(t, buffered.Trailers, streamed.Stream.Trailers())
	require.Equal(t, buffered.StatusCode, streamed.StatusCode)
	require.NoError(t, streamed.Stream.Close())
}

func TestStreamDeliveredAtHead(t *testing.T) {
	release := make(chan struct{})
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		w.Write([]byte("a"))
		<-release
		w.Write([]byte("b"))
		w.(httpx.TrailerWriter).AddTrailers(map[string]string{"X-T": " v "})
	})
	res := do(t, h, RequestOptions{}, Options{Stream: true})
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "text/event-stream", res.Headers.Get("Content-Type"))

	first := make([]byte, 1)
	_, err := io.ReadFull(res.Stream, first)
	require.NoError(t, err)
	require.Equal(t, "a", string(first))

	close(release)
	rest, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	require.Equal(t, "b", string(rest))
	require.Equal(t, map[string]string{"x-t": "v"}, res.Stream.Trailers())
}

func TestStreamCloseUnblocksRead(t *testing.T) {
	release := make(chan struct{})
	writeErr := make(chan error, 1)
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		w.WriteHeader(200)
		<-release
		_, err := w.Write([]byte("after close"))
		writeErr <- err
	})
	res := do(t, h, RequestOptions{}, Options{Stream: true})

	readDone := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(res.Stream)
		readDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, res.Stream.Close())

	select {
	case err := <-readDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read still blocked after Stream.Close")
	}
	require.False(t, res.Stream.Truncated())

	close(release)
	select {
	case err := <-writeErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never wrote")
	}
}

func TestStreamRawKeepsFraming(t *testing.T) {
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("hello"))
	}, RequestOptions{}, Options{Stream: true, Raw: true})
	body, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	require.Equal(t, "5\r\nhello\r\n0\r\n\r\n", string(body))
}

func TestSuperfluousWriteHeadIsIgnored(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.WarnLevel)
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.WriteHeader(201)
		w.WriteHeader(500)
		w.Write([]byte("x"))
	}, RequestOptions{}, Options{Logger: &logger})

	require.Equal(t, 201, res.StatusCode)
	require.Contains(t, logs.String(), "superfluous WriteHead call")
	require.Contains(t, logs.String(), `"req":"`)
}

func TestWriteAfterEnd(t *testing.T) {
	var lateErr error
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("done"))
		w.(httpx.Ender).End()
		_, lateErr = w.Write([]byte("late"))
	}, RequestOptions{}, Options{})

	require.Equal(t, "done", res.Payload)
	require.True(t, eris.Is(lateErr, httpx.ErrWriteAfterEnd))
}

func TestBodylessResponses(t *testing.T) {
	cases := []struct {
		name   string
		method string
		status int
	}{
		{"head request", "HEAD", 200},
		{"no content", "GET", 204},
		{"not modified", "GET", 304},
		{"informational", "GET", 103},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var (
				n   int
				err error
			)
			body := []byte("discarded")
			res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
				w.WriteHeader(c.status)
				n, err = w.Write(body)
			}, RequestOptions{Method: c.method}, Options{})

			require.NoError(t, err)
			require.Equal(t, len(body), n)
			require.Equal(t, c.status, res.StatusCode)
			require.Empty(t, res.RawPayload)
			require.Empty(t, res.Payload)
			require.Empty(t, res.Headers.Get("Transfer-Encoding"))
			require.NotContains(t, string(res.Raw.Wire), "discarded")
		})
	}
}

func TestCloseIsNoop(t *testing.T) {
	var res *Response
	out := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		res = w.(*Response)
		require.NoError(t, res.Close())
		w.Write([]byte("ok"))
	}, RequestOptions{}, Options{})
	require.NoError(t, res.Close())
	require.NoError(t, out.Raw.Res.Close())
	require.True(t, res.Ended())
	require.Equal(t, "ok", out.Payload)
}

func TestHandlerPanic(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.ErrorLevel)
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		panic("boom")
	}, RequestOptions{}, Options{Logger: &logger})
	require.Equal(t, 500, res.StatusCode)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "boom")
	require.Contains(t, logs.String(), "recovered handler panic")

	res = do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("partial"))
		panic(fmt.Errorf("late failure"))
	}, RequestOptions{}, Options{Logger: &logger})
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "partial", res.Payload)
	require.Contains(t, res.Err.Error(), "late failure")
}

func TestSimulateFaults(t *testing.T) {
	t.Run("split", func(t *testing.T) {
		var first int
		res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
			buf := make([]byte, 64)
			first, _ = r.Body.Read(buf)
			rest, _ := io.ReadAll(r.Body)
			w.Write(append(buf[:first], rest...))
		}, RequestOptions{Method: "POST", Payload: "abcdef"}, Options{Simulate: Simulate{Split: true}})
		require.Equal(t, 3, first)
		require.Equal(t, "abcdef", res.Payload)
	})

	t.Run("error", func(t *testing.T) {
		var readErr error
		var n int
		var writeErr error
		res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
			var body []byte
			body, readErr = io.ReadAll(r.Body)
			n, writeErr = w.Write(body)
		}, RequestOptions{Method: "POST", Payload: "abc"}, Options{Simulate: Simulate{Error: true}})
		require.True(t, eris.Is(readErr, ErrSimulated))
		require.NoError(t, writeErr)
		require.Equal(t, 3, n)
		require.Equal(t, "abc", res.Payload)
	})

	t.Run("close", func(t *testing.T) {
		res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
			_, _ = io.ReadAll(r.Body)
			select {
			case <-r.Context().Done():
				w.Write([]byte("closed"))
			case <-time.After(time.Second):
				w.Write([]byte("open"))
			}
		}, RequestOptions{Method: "POST", Payload: "abc"}, Options{Simulate: Simulate{Close: true}})
		require.Equal(t, "closed", res.Payload)
	})
}

func TestRequestContextCarriesIDs(t *testing.T) {
	var reqID, corrID string
	var logged bool
	res := do(t, func(w httpx.ResponseWriter, r *httpx.Request) {
		reqID, _ = httpx.RequestIDFrom(r.Context())
		corrID, _ = httpx.CorrelationIDFrom(r.Context())
		logged = obs.Log(r.Context()) != nil
		w.Write([]byte(r.RequestID))
	}, RequestOptions{Headers: map[string]string{"X-Request-ID": "corr-1"}}, Options{})

	require.NotEmpty(t, reqID)
	require.Equal(t, reqID, res.Payload)
	require.Equal(t, reqID, res.Raw.Req.RequestID)
	require.Equal(t, "corr-1", corrID)
	require.True(t, logged)
}

func TestMeterRecordsDeliveries(t *testing.T) {
	m := &obs.MemMeter{}
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Write([]byte("12345"))
	})
	do(t, h, RequestOptions{}, Options{Meter: m})
	res := do(t, h, RequestOptions{}, Options{Meter: m, Stream: true})
	_, _ = io.ReadAll(res.Stream)

	require.Equal(t, 2.0, m.Total("inject.responses"))
	require.Equal(t, []float64{5}, m.Observations("inject.payload_bytes"))
}

func TestDoAllIsolatesCycles(t *testing.T) {
	ros := make([]RequestOptions, 20)
	for i := range ros {
		ros[i] = RequestOptions{URL: fmt.Sprintf("/n/%d", i)}
	}
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Header().Set("X-Path", r.URL.Path)
		w.Write([]byte(r.URL.Path))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := DoAll(ctx, h, ros, Options{}, 4)
	require.NoError(t, err)
	require.Len(t, out, len(ros))
	for i, res := range out {
		want := fmt.Sprintf("/n/%d", i)
		require.Equal(t, want, res.Payload)
		require.Equal(t, want, res.Headers.Get("X-Path"))
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Do(ctx, httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		<-r.Context().Done()
	}), RequestOptions{}, Options{})
	require.Error(t, err)
	require.True(t, eris.Is(err, context.DeadlineExceeded))
}

func TestInjectRejectsBadInput(t *testing.T) {
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {})
	require.Error(t, Inject(context.Background(), h, RequestOptions{}, Options{}, nil))
	require.Error(t, Inject(context.Background(), h, RequestOptions{URL: "http://[::1"}, Options{}, func(*Result) {}))
}

func TestMergeTrailersRecordedWins(t *testing.T) {
	decoded := map[string]string{"x-a": "wire", "x-b": "wire"}
	mergeTrailers(decoded, map[string]string{"x-a": "recorded"})
	require.Equal(t, map[string]string{"x-a": "recorded", "x-b": "wire"}, decoded)
}
