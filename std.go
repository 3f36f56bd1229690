package inject

import (
	"net/http"
	"strings"

	"dqx0.com/go/inject/httpx"
)

// Std adapts a net/http handler so it can be injected. The handler sees an
// http.ResponseWriter that shares its header map with the capture, supports
// http.Flusher, and turns trailers declared through the "Trailer" header or
// set with the http.TrailerPrefix convention into captured trailers.
func Std(h http.Handler) httpx.Handler {
	return httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		sw := &stdWriter{w: w}
		h.ServeHTTP(sw, stdRequest(r))
		sw.finish()
	})
}

type stdWriter struct {
	w        httpx.ResponseWriter
	declared []string
	wrote    bool
}

func (s *stdWriter) Header() http.Header { return http.Header(s.w.Header()) }

func (s *stdWriter) WriteHeader(code int) {
	if !s.wrote {
		s.wrote = true
		for _, v := range s.w.Header().Values("Trailer") {
			for _, k := range strings.Split(v, ",") {
				if k = strings.TrimSpace(k); k != "" {
					s.declared = append(s.declared, http.CanonicalHeaderKey(k))
				}
			}
		}
	}
	s.w.WriteHeader(code)
}

func (s *stdWriter) Write(p []byte) (int, error) {
	if !s.wrote {
		s.WriteHeader(http.StatusOK)
	}
	return s.w.Write(p)
}

func (s *stdWriter) Flush() {
	if !s.wrote {
		s.WriteHeader(http.StatusOK)
	}
	if f, ok := s.w.(httpx.Flusher); ok {
		_ = f.Flush()
	}
}

// finish moves trailer values out of the header map, the way net/http
// does after the handler returns.
func (s *stdWriter) finish() {
	tw, ok := s.w.(httpx.TrailerWriter)
	if !ok {
		return
	}
	h := s.w.Header()
	trailers := map[string]string{}
	for _, k := range s.declared {
		if v := h.Get(k); v != "" {
			trailers[k] = v
		}
	}
	for k, vv := range h {
		if strings.HasPrefix(k, http.TrailerPrefix) && len(vv) > 0 {
			trailers[strings.TrimPrefix(k, http.TrailerPrefix)] = strings.Join(vv, ", ")
		}
	}
	if len(trailers) > 0 {
		tw.AddTrailers(trailers)
	}
}

func stdRequest(r *httpx.Request) *http.Request {
	major, minor := 1, 1
	if r.Proto == "HTTP/1.0" {
		minor = 0
	}
	sr := &http.Request{
		Method:        r.Method,
		URL:           r.URL,
		Proto:         r.Proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        http.Header(r.Header),
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          r.Host,
		RemoteAddr:    r.RemoteAddr,
		RequestURI:    r.RequestURI,
	}
	if te := r.Header.Get("Transfer-Encoding"); te != "" {
		sr.TransferEncoding = []string{te}
	}
	return sr.WithContext(r.Context())
}
