// Package inject runs HTTP handlers in-process and captures what they
// write, without opening a socket.
//
// A handler receives a *Response that frames its output exactly like an
// HTTP/1.1 connection would: the status line and headers (including the
// implicit Date, Connection and Transfer-Encoding fields), the body in
// chunked framing when no Content-Length is set, and trailers after the
// terminating chunk. All of it lands in an in-memory sink. When the
// response is finalized the bytes are decoded back into a Result and
// handed to the completion callback exactly once, on its own goroutine.
//
// Quick start:
//
//	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
//	    w.Header().Set("Content-Type", "text/plain")
//	    w.Write([]byte("hello"))
//	})
//	res, err := inject.Do(ctx, h, inject.RequestOptions{URL: "/"}, inject.Options{})
//	if err != nil { return err }
//	fmt.Println(res.StatusCode, res.Payload) // 200 hello
//
// With Options.Stream the Result is delivered once the head is written and
// the body is read live from Result.Stream. net/http handlers are injected
// through Std.
package inject
