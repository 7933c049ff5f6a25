package replica

import (
	"bytes"

	. "gopkg.in/check.v1"

	"github.com/longhorn/replica-tester/pkg/dataconn"
)

// blockTags maps a block index to its io number.
type blockTags map[uint64]uint64

func (t blockTags) Read(offset uint64) uint64 {
	return t[offset/BlockSize]
}

type CoalesceSuite struct{}

var _ = Suite(&CoalesceSuite{})

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func (s *CoalesceSuite) TestUntaggedSingleSegment(c *C) {
	tags := blockTags{0: 5, 1: 6}
	data := pattern(2 * BlockSize)

	payload, count := Coalesce(tags, 0, data, false)
	c.Assert(count, Equals, 1)
	c.Assert(len(payload), Equals, dataconn.IOHeaderSize+len(data))

	segments, err := dataconn.DecodeSegments(payload)
	c.Assert(err, IsNil)
	c.Assert(segments, HasLen, 1)
	c.Assert(segments[0].IONum, Equals, uint64(0))
	c.Assert(bytes.Equal(segments[0].Data, data), Equals, true)
}

func (s *CoalesceSuite) TestTaggedSplitsOnChange(c *C) {
	tags := blockTags{0: 5, 1: 5, 2: 6, 3: 7}
	data := pattern(4 * BlockSize)

	c.Assert(CountSegments(tags, 0, uint64(len(data))), Equals, 3)

	payload, count := Coalesce(tags, 0, data, true)
	c.Assert(count, Equals, 3)
	c.Assert(len(payload), Equals, len(data)+3*dataconn.IOHeaderSize)

	segments, err := dataconn.DecodeSegments(payload)
	c.Assert(err, IsNil)
	c.Assert(segments, HasLen, 3)

	c.Assert(segments[0].IONum, Equals, uint64(5))
	c.Assert(segments[0].Data, HasLen, 2*BlockSize)
	c.Assert(segments[1].IONum, Equals, uint64(6))
	c.Assert(segments[1].Data, HasLen, BlockSize)
	c.Assert(segments[2].IONum, Equals, uint64(7))
	c.Assert(segments[2].Data, HasLen, BlockSize)

	var joined []byte
	for _, seg := range segments {
		joined = append(joined, seg.Data...)
	}
	c.Assert(bytes.Equal(joined, data), Equals, true)
}

func (s *CoalesceSuite) TestTaggedUniform(c *C) {
	tags := blockTags{2: 9, 3: 9}
	data := pattern(2 * BlockSize)

	payload, count := Coalesce(tags, 2*BlockSize, data, true)
	c.Assert(count, Equals, 1)

	segments, err := dataconn.DecodeSegments(payload)
	c.Assert(err, IsNil)
	c.Assert(segments, HasLen, 1)
	c.Assert(segments[0].IONum, Equals, uint64(9))
	c.Assert(bytes.Equal(segments[0].Data, data), Equals, true)
}

func (s *CoalesceSuite) TestFinalSegmentTakesRemainder(c *C) {
	tags := blockTags{0: 1, 1: 2}
	data := pattern(1000)

	payload, count := Coalesce(tags, 0, data, true)
	c.Assert(count, Equals, 2)

	segments, err := dataconn.DecodeSegments(payload)
	c.Assert(err, IsNil)
	c.Assert(segments, HasLen, 2)
	c.Assert(segments[0].IONum, Equals, uint64(1))
	c.Assert(segments[0].Data, HasLen, BlockSize)
	c.Assert(segments[1].IONum, Equals, uint64(2))
	c.Assert(segments[1].Data, HasLen, 1000-BlockSize)
}

func (s *CoalesceSuite) TestEmptyRead(c *C) {
	tags := blockTags{0: 4}

	payload, count := Coalesce(tags, 0, nil, true)
	c.Assert(count, Equals, 1)
	c.Assert(payload, HasLen, dataconn.IOHeaderSize)

	segments, err := dataconn.DecodeSegments(payload)
	c.Assert(err, IsNil)
	c.Assert(segments, HasLen, 1)
	c.Assert(segments[0].IONum, Equals, uint64(4))
	c.Assert(segments[0].Data, HasLen, 0)
}

func (s *CoalesceSuite) TestSplitTruncated(c *C) {
	payload, _ := Coalesce(blockTags{}, 0, pattern(BlockSize), true)
	_, err := dataconn.DecodeSegments(payload[:len(payload)-1])
	c.Assert(err, NotNil)
	_, err = dataconn.DecodeSegments(payload[:dataconn.IOHeaderSize-1])
	c.Assert(err, NotNil)
}
