package replica

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	. "gopkg.in/check.v1"
)

const testVolumeSize = 8 * BlockSize

type MetadataSuite struct {
	dir    string
	volume string
}

var _ = Suite(&MetadataSuite{})

func (s *MetadataSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
	s.volume = filepath.Join(s.dir, "volume.img")
}

func (s *MetadataSuite) TestCreateZeroFilled(c *C) {
	m, err := OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, IsNil)
	defer m.Close()

	c.Assert(m.Path(), Equals, s.volume+".mdfile")
	c.Assert(m.Slots(), Equals, uint64(8))

	stat, err := os.Stat(m.Path())
	c.Assert(err, IsNil)
	c.Assert(stat.Size(), Equals, int64(8*8))

	for offset := uint64(0); offset < testVolumeSize; offset += BlockSize {
		c.Assert(m.Read(offset), Equals, uint64(0))
	}
}

func (s *MetadataSuite) TestWriteStride(c *C) {
	m, err := OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, IsNil)
	defer m.Close()

	c.Assert(m.Write(0, 2*BlockSize, 7), IsNil)
	c.Assert(m.Read(0), Equals, uint64(7))
	c.Assert(m.Read(BlockSize+1), Equals, uint64(7))
	c.Assert(m.Read(2*BlockSize), Equals, uint64(0))

	// unaligned writes step from the offset itself
	c.Assert(m.Write(4*BlockSize+100, 600, 3), IsNil)
	c.Assert(m.Read(4*BlockSize), Equals, uint64(3))
	c.Assert(m.Read(5*BlockSize), Equals, uint64(3))
	c.Assert(m.Read(6*BlockSize), Equals, uint64(0))

	c.Assert(m.Write(6*BlockSize+100, 1000, 9), IsNil)
	c.Assert(m.Read(6*BlockSize), Equals, uint64(9))
	c.Assert(m.Read(7*BlockSize), Equals, uint64(9))

	// later writes win
	c.Assert(m.Write(BlockSize, BlockSize, 8), IsNil)
	c.Assert(m.Read(0), Equals, uint64(7))
	c.Assert(m.Read(BlockSize), Equals, uint64(8))

	c.Assert(m.Write(0, 0, 42), IsNil)
	c.Assert(m.Read(0), Equals, uint64(7))
}

func (s *MetadataSuite) TestOutOfRange(c *C) {
	m, err := OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, IsNil)
	defer m.Close()

	err = m.Write(7*BlockSize, 2*BlockSize, 1)
	c.Assert(errors.Is(err, ErrOutOfRange), Equals, true)
	c.Assert(m.Read(7*BlockSize), Equals, uint64(0))

	err = m.Write(1<<40, 1, 1)
	c.Assert(errors.Is(err, ErrOutOfRange), Equals, true)

	c.Assert(m.Read(testVolumeSize), Equals, uint64(0))
	c.Assert(m.Read(1<<40), Equals, uint64(0))
}

func (s *MetadataSuite) TestReopenPersists(c *C) {
	m, err := OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, IsNil)
	c.Assert(m.Write(3*BlockSize, BlockSize, 11), IsNil)
	c.Assert(m.Close(), IsNil)

	m, err = OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, IsNil)
	defer m.Close()
	c.Assert(m.Read(3*BlockSize), Equals, uint64(11))
	c.Assert(m.Read(2*BlockSize), Equals, uint64(0))
}

func (s *MetadataSuite) TestExclusiveOpen(c *C) {
	m, err := OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, IsNil)

	_, err = OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, ErrorMatches, ".*in use by another replica.*")

	c.Assert(m.Close(), IsNil)

	m, err = OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, IsNil)
	c.Assert(m.Close(), IsNil)
}

func (s *MetadataSuite) TestRejectShortFile(c *C) {
	err := os.WriteFile(MetadataPath(s.volume), make([]byte, 8), 0666)
	c.Assert(err, IsNil)

	_, err = OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, ErrorMatches, ".*expecting at least 64.*")

	// the lock must be released on failure
	err = os.Remove(MetadataPath(s.volume))
	c.Assert(err, IsNil)
	m, err := OpenMetadataStore(s.volume, testVolumeSize)
	c.Assert(err, IsNil)
	c.Assert(m.Close(), IsNil)
}

func (s *MetadataSuite) TestEmptyVolume(c *C) {
	m, err := OpenMetadataStore(s.volume, 100)
	c.Assert(err, IsNil)
	defer m.Close()

	c.Assert(m.Slots(), Equals, uint64(0))
	c.Assert(m.Write(0, 100, 1), IsNil)
	c.Assert(m.Read(0), Equals, uint64(0))
	c.Assert(errors.Is(m.Write(0, 101, 1), ErrOutOfRange), Equals, true)
}

func (s *MetadataSuite) TestTrailingPartialBlock(c *C) {
	m, err := OpenMetadataStore(s.volume, 2*BlockSize-24)
	c.Assert(err, IsNil)
	defer m.Close()
	c.Assert(m.Slots(), Equals, uint64(1))

	// the write lies inside the volume but its block has no slot
	c.Assert(m.Write(BlockSize, BlockSize-24, 7), IsNil)
	c.Assert(m.Read(0), Equals, uint64(0))
	c.Assert(m.Read(BlockSize), Equals, uint64(0))

	c.Assert(m.Write(100, 2*BlockSize-124, 8), IsNil)
	c.Assert(m.Read(0), Equals, uint64(8))

	err = m.Write(BlockSize, BlockSize-23, 9)
	c.Assert(errors.Is(err, ErrOutOfRange), Equals, true)
	c.Assert(m.Read(0), Equals, uint64(8))
}
