package http1

import (
	"bytes"
	"strings"
)

var (
	crlf      = []byte("\r\n")
	headerEnd = []byte("\r\n\r\n")
)

// Body is a decoded response body block.
type Body struct {
	Payload  []byte
	Trailers map[string]string
	// Truncated is set when decoding stopped at malformed or missing framing.
	Truncated bool
}

// SplitHead splits wire bytes once at the first blank line. Without a blank
// line all bytes belong to the head.
func SplitHead(wire []byte) (head, rest []byte) {
	i := bytes.Index(wire, headerEnd)
	if i < 0 {
		return wire, nil
	}
	return wire[:i], wire[i+len(headerEnd):]
}

// DecodeChunked decodes a chunk-framed body block held fully in memory.
// Everything after the zero-size chunk line is the trailer block. Decoding
// never reads past the end of block; running out of bytes, or an unparsable
// size line, ends the body with whatever was decoded.
func DecodeChunked(block []byte) Body {
	out := Body{Payload: []byte{}, Trailers: map[string]string{}}
	pos := 0
	for {
		i := bytes.Index(block[pos:], crlf)
		if i < 0 {
			out.Truncated = true
			return out
		}
		size, err := parseChunkSize(string(block[pos : pos+i]))
		if err != nil {
			out.Truncated = true
			return out
		}
		pos += i + len(crlf)
		if size == 0 {
			out.Trailers = ParseTrailers(block[pos:])
			return out
		}
		if size > int64(len(block)-pos) {
			out.Payload = append(out.Payload, block[pos:]...)
			out.Truncated = true
			return out
		}
		end := pos + int(size)
		out.Payload = append(out.Payload, block[pos:end]...)
		pos = end
		if !bytes.HasPrefix(block[pos:], crlf) {
			out.Truncated = true
			return out
		}
		pos += len(crlf)
	}
}

// ParseTrailers parses newline separated "name: value" lines into a
// normalized map. Lines without exactly one colon are skipped.
func ParseTrailers(block []byte) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if k, v, ok := parseTrailerLine(line); ok {
			out[k] = v
		}
	}
	return out
}
