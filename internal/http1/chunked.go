package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	ErrChunkFormat = eris.New("http1: invalid chunk format")
)

// ChunkedReader decodes a Transfer-Encoding: chunked body and collects the
// trailer block that follows the terminating zero-size chunk.
//
// A strict reader reports malformed framing as an error. A lenient reader
// treats the first malformed or missing frame as the end of the body and
// records that through Truncated.
type ChunkedReader struct {
	br        *bufio.Reader
	remain    int64
	finished  bool
	maxLine   int // line limit for chunk header and trailer lines
	lenient   bool
	truncated bool
	trailer   map[string]string
}

// NewChunkedReader returns a strict chunked decoder reading from br.
func NewChunkedReader(br *bufio.Reader, maxLine int) *ChunkedReader {
	return &ChunkedReader{br: br, maxLine: maxLine, trailer: map[string]string{}}
}

// NewLenientChunkedReader returns a decoder that truncates instead of failing.
func NewLenientChunkedReader(br *bufio.Reader, maxLine int) *ChunkedReader {
	c := NewChunkedReader(br, maxLine)
	c.lenient = true
	return c
}

func (c *ChunkedReader) Read(p []byte) (int, error) {
	if c.finished {
		return 0, io.EOF
	}
	// No bytes left in the current chunk: read the next size line.
	if c.remain == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, c.fail(err)
		}
		if size == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, c.fail(err)
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}
	toRead := int64(len(p))
	if toRead > c.remain {
		toRead = c.remain
	}
	n, err := io.ReadFull(c.br, p[:toRead])
	c.remain -= int64(n)
	if err != nil {
		return n, c.fail(err)
	}
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, c.fail(err)
		}
	}
	return n, nil
}

// Close drains the body so the trailer block is consumed.
func (c *ChunkedReader) Close() error {
	buf := make([]byte, 1024)
	for !c.finished {
		_, err := c.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Trailer returns the normalized trailers decoded so far. The map is
// complete once Read has returned io.EOF.
func (c *ChunkedReader) Trailer() map[string]string {
	out := make(map[string]string, len(c.trailer))
	for k, v := range c.trailer {
		out[k] = v
	}
	return out
}

// Truncated reports whether a lenient reader stopped at malformed framing.
func (c *ChunkedReader) Truncated() bool { return c.truncated }

func (c *ChunkedReader) fail(err error) error {
	if c.lenient {
		c.truncated = true
		c.finished = true
		return io.EOF
	}
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (c *ChunkedReader) readChunkSize() (int64, error) {
	line, err := readLineLimit(c.br, c.maxLine)
	if err != nil {
		return 0, err
	}
	return parseChunkSize(line)
}

func (c *ChunkedReader) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return err
	}
	b2, err := c.br.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return eris.Wrapf(ErrChunkFormat, "expected CRLF after chunk, got %q%q", b1, b2)
	}
	return nil
}

func (c *ChunkedReader) readTrailers() error {
	for {
		line, err := readLineLimit(c.br, c.maxLine)
		if line != "" {
			if k, v, ok := parseTrailerLine(line); ok {
				c.trailer[k] = v
			}
		}
		if err == io.EOF && c.lenient {
			// The trailer block is whatever remains; a missing final
			// blank line is not an error.
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

// parseChunkSize parses "<hex>[;ext]".
func parseChunkSize(line string) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, ErrChunkFormat
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, ErrChunkFormat
	}
	return n, nil
}

// parseTrailerLine accepts only lines that split into exactly one name and
// one value around a colon.
func parseTrailerLine(line string) (string, string, bool) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 {
		return "", "", false
	}
	k, v := NormalizeTrailer(parts[0], parts[1])
	if k == "" {
		return "", "", false
	}
	return k, v, true
}

// readLineLimit reads one line without its CRLF. On io.EOF the partial line
// read so far is returned together with the error.
func readLineLimit(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return sb.String(), err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", io.ErrShortBuffer
		}
	}
	return sb.String(), nil
}
