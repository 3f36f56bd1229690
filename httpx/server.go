package httpx

type Handler interface {
	ServeHTTP(ResponseWriter, *Request)
}

type HandlerFunc func(ResponseWriter, *Request)

func (f HandlerFunc) ServeHTTP(w ResponseWriter, r *Request) {
	f(w, r)
}

type ResponseWriter interface {
	Header() Header
	Write([]byte) (int, error)
	WriteHeader(status int)
}

// HeadWriter is implemented by writers that accept a reason phrase and
// extra headers together with the status code. An empty message selects the
// standard reason phrase; nil headers add nothing.
type HeadWriter interface {
	WriteHead(status int, message string, headers Header)
}

// TrailerWriter is implemented by writers that can send trailers after the
// body. Keys are case-insensitive.
type TrailerWriter interface {
	AddTrailers(trailers map[string]string)
}

// Ender is implemented by writers that let the handler end the response
// before returning. Calling End more than once has no effect.
type Ender interface {
	End()
}

// NoResponseBody reports whether a response to method with status carries
// no body.
func NoResponseBody(status int, method string) bool {
	if method == "HEAD" {
		return true
	}
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}
