// Package httpx defines the handler-facing HTTP/1.1 types used by the
// inject package: Header, Request, Handler and the ResponseWriter family.
//
// A handler written against these types cannot tell whether it writes to a
// real connection or to an in-process capture:
//
//	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
//	    w.Header().Set("Content-Type", "text/plain; charset=utf-8")
//	    w.WriteHeader(200)
//	    w.Write([]byte("hello"))
//	    if tw, ok := w.(httpx.TrailerWriter); ok {
//	        tw.AddTrailers(map[string]string{"X-Checksum": "abc"})
//	    }
//	})
//
// Optional capabilities (Flusher, HeadWriter, TrailerWriter, Ender) are
// discovered with type assertions, the same way net/http exposes
// http.Flusher.
package httpx
