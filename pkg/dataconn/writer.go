package dataconn

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

var writeRetryInterval = 10 * time.Millisecond

// VectorWriter performs one scatter write and reports how many bytes were
// accepted.
type VectorWriter interface {
	Writev(bufs [][]byte) (int, error)
}

// WriteBuffers flushes every byte of bufs, resuming after partial writes.
// EINTR and EAGAIN are retried; any other error is returned.
func WriteBuffers(w VectorWriter, bufs [][]byte) error {
	bufs = advance(append([][]byte(nil), bufs...), 0)
	for len(bufs) > 0 {
		n, err := w.Writev(bufs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				time.Sleep(writeRetryInterval)
				continue
			}
			return errors.Wrap(err, "failed to write")
		}
		if n <= 0 {
			return errors.Wrap(io.ErrShortWrite, "failed to write")
		}
		bufs = advance(bufs, n)
	}
	return nil
}

func WriteResponse(w VectorWriter, resp *Response) error {
	return WriteBuffers(w, resp.Buffers())
}

// advance drops the first n written bytes from bufs.
func advance(bufs [][]byte, n int) [][]byte {
	for len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			break
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	for len(bufs) > 0 && len(bufs[0]) == 0 {
		bufs = bufs[1:]
	}
	return bufs
}
