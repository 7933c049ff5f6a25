package replica

import (
	"github.com/longhorn/replica-tester/pkg/dataconn"
)

type MetadataReader interface {
	Read(offset uint64) uint64
}

// CountSegments returns the number of maximal runs of equal io numbers met
// while stepping through [offset, offset+length) in 512 byte strides. It is
// never less than one.
func CountSegments(md MetadataReader, offset, length uint64) int {
	count := 1
	current := md.Read(offset)
	for rel := uint64(0); rel < length; rel += BlockSize {
		if ioNum := md.Read(offset + rel); ioNum != current {
			count++
			current = ioNum
		}
	}
	return count
}

// Coalesce builds a READ response payload from the bytes read at offset and
// returns it with its segment count. Untagged reads become a single segment
// with io number zero. Tagged reads are split wherever the io number of the
// block changes; each segment is an IOHeader followed by its bytes, and the
// segments cover data exactly.
func Coalesce(md MetadataReader, offset uint64, data []byte, tagged bool) ([]byte, int) {
	length := uint64(len(data))

	if !tagged {
		out := make([]byte, dataconn.IOHeaderSize+len(data))
		dataconn.IOHeader{IONum: 0, Len: length}.EncodeTo(out)
		copy(out[dataconn.IOHeaderSize:], data)
		return out, 1
	}

	segments := CountSegments(md, offset, length)
	out := make([]byte, len(data)+segments*dataconn.IOHeaderSize)
	cursor := 0

	emit := func(ioNum, from, to uint64) {
		dataconn.IOHeader{IONum: ioNum, Len: to - from}.EncodeTo(out[cursor:])
		cursor += dataconn.IOHeaderSize
		cursor += copy(out[cursor:], data[from:to])
	}

	start := uint64(0)
	current := md.Read(offset)
	for rel := uint64(0); rel < length; rel += BlockSize {
		if ioNum := md.Read(offset + rel); ioNum != current {
			emit(current, start, rel)
			start = rel
			current = ioNum
		}
	}
	emit(current, start, length)

	return out[:cursor], segments
}
