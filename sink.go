package inject

import (
	"io"
	"sync"

	"github.com/rotisserie/eris"
)

var errSinkClosed = eris.New("inject: write to closed sink")

// sink stands in for the connection. Writes are copied into an unbounded
// queue so they never block and never fail before Close; reads block until
// bytes arrive or the sink is closed, then drain in write order.
type sink struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	size   int64
	closed bool
	// readClosed is set once the reader goes away; writes are then
	// counted and dropped.
	readClosed bool
}

func newSink() *sink {
	s := &sink{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSinkClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	s.size += int64(len(p))
	if s.readClosed {
		return len(p), nil
	}
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	s.cond.Broadcast()
	return len(p), nil
}

func (s *sink) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) == 0 && !s.closed && !s.readClosed {
		s.cond.Wait()
	}
	if s.readClosed || len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	if n == len(s.chunks[0]) {
		s.chunks[0] = nil
		s.chunks = s.chunks[1:]
	} else {
		s.chunks[0] = s.chunks[0][n:]
	}
	return n, nil
}

// Close ends the byte stream. Pending bytes stay readable.
func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// closeRead wakes blocked readers and makes every later Read report io.EOF.
// Writes keep succeeding.
func (s *sink) closeRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readClosed = true
	s.chunks = nil
	s.cond.Broadcast()
}

// Size returns the number of bytes accepted so far.
func (s *sink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// readStream drains r until EOF.
func readStream(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return b, eris.Wrap(err, "inject: reading captured bytes")
	}
	return b, nil
}
