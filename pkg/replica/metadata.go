package replica

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	BlockSize = 512

	metadataSuffix                 = ".mdfile"
	metadataLockSuffix             = ".lock"
	metadataSlotSize               = 8
	metadataFileMode   os.FileMode = 0666
)

var ErrOutOfRange = errors.New("range beyond the end of the volume")

// MetadataStore records, per 512 byte block of the volume, the io number of
// the last write that covered it. The slots live in a shared memory mapping
// of the sidecar file, which is the only persisted state.
type MetadataStore struct {
	path  string
	file  *os.File
	lock  *flock.Flock
	data  []byte
	slots uint64
	// size is the volume size; a trailing partial block has no slot.
	size uint64
}

func MetadataPath(volumePath string) string {
	return volumePath + metadataSuffix
}

func metadataFileSize(volumeSize int64) int64 {
	return (volumeSize / BlockSize) * metadataSlotSize
}

// OpenMetadataStore maps the sidecar of volumePath, creating it zero-filled
// when it does not exist yet.
func OpenMetadataStore(volumePath string, volumeSize int64) (_ *MetadataStore, err error) {
	path := MetadataPath(volumePath)
	size := metadataFileSize(volumeSize)

	lock := flock.New(path + metadataLockSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock metadata file %v", path)
	}
	if !locked {
		return nil, errors.Errorf("metadata file %v is in use by another replica", path)
	}

	m := &MetadataStore{
		path:  path,
		lock:  lock,
		slots: uint64(size / metadataSlotSize),
		size:  uint64(volumeSize),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, m.Close())
		}
	}()

	create := false
	stat, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to access metadata file %v", path)
		}
		create = true
	} else if stat.Size() < size {
		return nil, errors.Errorf("metadata file %v has %d bytes, expecting at least %d", path, stat.Size(), size)
	}

	m.file, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, metadataFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open metadata file %v", path)
	}

	if create {
		logrus.Infof("Creating metadata file %v with %d slots", path, m.slots)
		if err := m.file.Truncate(size); err != nil {
			return nil, errors.Wrapf(err, "failed to create metadata file %v", path)
		}
	}

	if size == 0 {
		return m, nil
	}

	m.data, err = unix.Mmap(int(m.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map metadata file %v", path)
	}
	return m, nil
}

func (m *MetadataStore) Path() string {
	return m.path
}

func (m *MetadataStore) Slots() uint64 {
	return m.slots
}

// Write stamps ioNum on every slot visited by stepping from offset in 512
// byte strides while below offset+length. The stride starts at offset
// itself, not at the block boundary below it. Positions in the trailing
// partial block of the volume are skipped.
func (m *MetadataStore) Write(offset, length, ioNum uint64) error {
	if offset > m.size || length > m.size-offset {
		return errors.Wrapf(ErrOutOfRange, "metadata write offset %d length %d on volume of %d bytes", offset, length, m.size)
	}
	for pos := offset; pos < offset+length; pos += BlockSize {
		index := pos / BlockSize
		if index >= m.slots {
			break
		}
		binary.LittleEndian.PutUint64(m.data[index*metadataSlotSize:], ioNum)
	}
	return nil
}

// Read returns the io number of the block containing offset, or zero when
// offset is beyond the volume.
func (m *MetadataStore) Read(offset uint64) uint64 {
	index := offset / BlockSize
	if index >= m.slots {
		return 0
	}
	return binary.LittleEndian.Uint64(m.data[index*metadataSlotSize:])
}

func (m *MetadataStore) Flush() error {
	if m.data == nil {
		return nil
	}
	return errors.Wrapf(unix.Msync(m.data, unix.MS_SYNC), "failed to sync metadata file %v", m.path)
}

func (m *MetadataStore) Close() error {
	var err error
	if m.data != nil {
		err = multierr.Append(err, m.Flush())
		err = multierr.Append(err, errors.Wrapf(unix.Munmap(m.data), "failed to unmap metadata file %v", m.path))
		m.data = nil
	}
	if m.file != nil {
		err = multierr.Append(err, m.file.Close())
		m.file = nil
	}
	if m.lock != nil {
		err = multierr.Append(err, m.lock.Unlock())
		m.lock = nil
	}
	return err
}
