package http1

import (
	"bufio"
	"fmt"
	"time"
)

// TimeFormat is the layout of the Date header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Head describes the status line and header block of a response.
type Head struct {
	Status    int
	Reason    string
	Header    map[string][]string
	Chunked   bool
	KeepAlive bool
	// Date is used when Header carries no Date. Zero means now.
	Date time.Time
}

// Reason returns the standard reason phrase for code, or "" if unknown.
func Reason(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 206:
		return "Partial Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 409:
		return "Conflict"
	case 413:
		return "Payload Too Large"
	case 415:
		return "Unsupported Media Type"
	case 422:
		return "Unprocessable Entity"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return ""
	}
}

// StartResponse writes the status line and headers, followed by the
// implicit Date, Connection and (when chunked) Transfer-Encoding fields.
// It does not write any body bytes. User supplied Connection and
// Transfer-Encoding values are replaced by the computed ones; Content-Length
// is dropped when chunked.
func StartResponse(bw *bufio.Writer, h Head) error {
	reason := h.Reason
	if reason == "" {
		reason = Reason(h.Status)
	}
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", h.Status, reason); err != nil {
		return err
	}
	for _, k := range sortedKeys(h.Header) {
		switch k {
		case "Connection", "Transfer-Encoding":
			continue
		case "Content-Length":
			if h.Chunked {
				continue
			}
		}
		name := SanitizeHeaderKey(k)
		if name == "" {
			continue
		}
		for _, v := range h.Header[k] {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", name, SanitizeHeaderValue(v)); err != nil {
				return err
			}
		}
	}
	if getHeader(h.Header, "Date") == "" {
		date := h.Date
		if date.IsZero() {
			date = time.Now()
		}
		if _, err := fmt.Fprintf(bw, "Date: %s\r\n", date.UTC().Format(TimeFormat)); err != nil {
			return err
		}
	}
	conn := "close"
	if h.KeepAlive {
		conn = "keep-alive"
	}
	if _, err := fmt.Fprintf(bw, "Connection: %s\r\n", conn); err != nil {
		return err
	}
	if h.Chunked {
		if _, err := fmt.Fprint(bw, "Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(bw, "\r\n")
	return err
}

// WriteChunked writes one HTTP/1.1 chunk for chunked transfer encoding.
// An empty p writes nothing, since a zero-size chunk ends the body.
func WriteChunked(bw *bufio.Writer, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(bw, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := bw.Write(p); err != nil {
		return 0, err
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// EndChunked writes the terminating zero-length chunk and the trailer block.
func EndChunked(bw *bufio.Writer, trailers map[string]string) error {
	if _, err := fmt.Fprint(bw, "0\r\n"); err != nil {
		return err
	}
	for _, k := range sortedKeys(trailers) {
		name := SanitizeHeaderKey(k)
		if name == "" {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", name, SanitizeHeaderValue(trailers[k])); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(bw, "\r\n")
	return err
}
