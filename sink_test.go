package inject

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSinkPreservesOrderAcrossGoroutines(t *testing.T) {
	s := newSink()
	var want bytes.Buffer
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&want, "chunk-%d;", i)
	}
	go func() {
		for i := 0; i < 500; i++ {
			n, err := fmt.Fprintf(s, "chunk-%d;", i)
			if err != nil || n == 0 {
				panic("sink write failed")
			}
		}
		_ = s.Close()
	}()
	got, err := readStream(s)
	require.NoError(t, err)
	require.Equal(t, want.String(), string(got))
	require.Equal(t, int64(want.Len()), s.Size())
}

func TestSinkPartialReads(t *testing.T) {
	s := newSink()
	_, _ = s.Write([]byte("abcdef"))
	_ = s.Close()
	buf := make([]byte, 4)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(buf[:n]))
	n, err = s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ef", string(buf[:n]))
	_, err = s.Read(buf)
	require.Equal(t, io.EOF, err)
}

func TestSinkRejectsWritesAfterClose(t *testing.T) {
	s := newSink()
	_ = s.Close()
	_, err := s.Write([]byte("x"))
	require.Error(t, err)
	n, err := s.Write(nil)
	require.Error(t, err)
	require.Zero(t, n)
}

func TestSinkCloseReadWakesReader(t *testing.T) {
	s := newSink()
	done := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 8))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	s.closeRead()

	select {
	case err := <-done:
		require.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("Read still blocked after closeRead")
	}
	n, err := s.Write([]byte("later"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, int64(5), s.Size())
	_, err = s.Read(make([]byte, 8))
	require.Equal(t, io.EOF, err)
}
