package replica

import (
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var volumeRetryInterval = time.Second

type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Volume is the pre-existing backing store. Reads and writes are positioned
// and retried while the device reports EAGAIN.
type Volume struct {
	path  string
	dev   BlockDevice
	size  int64
	sleep func(time.Duration)
}

func OpenVolume(path string) (*Volume, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open volume %v", path)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to access volume %v", path)
	}
	logrus.Infof("Opened volume %v, size %v", path, units.BytesSize(float64(stat.Size())))
	return NewVolume(path, f, stat.Size()), nil
}

func NewVolume(path string, dev BlockDevice, size int64) *Volume {
	return &Volume{
		path:  path,
		dev:   dev,
		size:  size,
		sleep: time.Sleep,
	}
}

func (v *Volume) Path() string {
	return v.path
}

func (v *Volume) Size() int64 {
	return v.size
}

// Contains reports whether [offset, offset+length) lies inside the volume.
func (v *Volume) Contains(offset, length uint64) bool {
	size := uint64(v.size)
	return offset <= size && length <= size-offset
}

func (v *Volume) ReadAt(buf []byte, offset int64) (int, error) {
	nbytes := 0
	for nbytes < len(buf) {
		n, err := v.dev.ReadAt(buf[nbytes:], offset+int64(nbytes))
		nbytes += n
		if err == nil {
			if n == 0 {
				err = io.ErrUnexpectedEOF
			} else {
				continue
			}
		}
		if errors.Is(err, unix.EAGAIN) {
			v.sleep(volumeRetryInterval)
			continue
		}
		if err == io.EOF && nbytes == len(buf) {
			break
		}
		return nbytes, errors.Wrapf(err, "failed to read %d bytes at offset %d from %v, got %d", len(buf), offset, v.path, nbytes)
	}
	return nbytes, nil
}

func (v *Volume) WriteAt(buf []byte, offset int64) (int, error) {
	nbytes := 0
	for nbytes < len(buf) {
		n, err := v.dev.WriteAt(buf[nbytes:], offset+int64(nbytes))
		nbytes += n
		if err == nil {
			if n == 0 {
				return nbytes, errors.Wrapf(io.ErrShortWrite, "failed to write %d bytes at offset %d to %v", len(buf), offset, v.path)
			}
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			v.sleep(volumeRetryInterval)
			continue
		}
		return nbytes, errors.Wrapf(err, "failed to write %d bytes at offset %d to %v, wrote %d", len(buf), offset, v.path, nbytes)
	}
	return nbytes, nil
}

func (v *Volume) Close() error {
	logrus.Infof("Closing volume %v", v.path)
	return v.dev.Close()
}
