// Package state reads and writes the framed binary blobs that carry a vehicle's full
// and visual state over the network.
//
// Layout: "RVPS" magic, uint16 schema version, uint16 section count, then per section a
// uint32 byte length followed by the section body. All values are little-endian and
// floating point values travel as float64, so a restored state is bit-identical.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// SchemaVersion is bumped whenever any component changes its field layout.
const SchemaVersion uint16 = 2

var magic = [4]byte{'R', 'V', 'P', 'S'}

const headerSize = 8

var (
	// ErrSchemaMismatch reports a blob written by an incompatible layout.
	ErrSchemaMismatch = errors.New("state schema mismatch")
	// ErrShortBuffer reports a read past the end of a blob or section.
	ErrShortBuffer = errors.New("state buffer too short")
)

// Writer builds a blob. The zero value is not usable; call NewWriter.
type Writer struct {
	buf      []byte
	sections int
	open     int // offset of the open section's length prefix, -1 when none
}

func NewWriter() *Writer {
	w := &Writer{buf: make([]byte, headerSize, 256), open: -1}
	return w
}

// BeginSection starts a length-prefixed block. An open section is closed first.
func (w *Writer) BeginSection() {
	if w.open >= 0 {
		w.EndSection()
	}
	w.open = len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
}

// EndSection closes the open block.
func (w *Writer) EndSection() {
	if w.open < 0 {
		return
	}
	n := len(w.buf) - w.open - 4
	binary.LittleEndian.PutUint32(w.buf[w.open:], uint32(n))
	w.open = -1
	w.sections++
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt32(v int) {
	w.WriteUint32(uint32(int32(v)))
}

func (w *Writer) WriteFloat64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteVec3(v mgl64.Vec3) {
	w.WriteFloat64(v[0])
	w.WriteFloat64(v[1])
	w.WriteFloat64(v[2])
}

// WriteQuat writes x, y, z, w.
func (w *Writer) WriteQuat(q mgl64.Quat) {
	w.WriteVec3(q.V)
	w.WriteFloat64(q.W)
}

// Len is the number of bytes written after the header.
func (w *Writer) Len() int {
	return len(w.buf) - headerSize
}

// Sections returns the number of closed sections.
func (w *Writer) Sections() int {
	return w.sections
}

// Bytes closes any open section, fills in the header and returns the blob. The writer
// can keep appending afterwards.
func (w *Writer) Bytes() []byte {
	w.EndSection()
	copy(w.buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(w.buf[4:], SchemaVersion)
	binary.LittleEndian.PutUint16(w.buf[6:], uint16(w.sections))
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// Reader consumes a blob or one section of it. Reads after an error return zero values
// and keep the first error, so callers check Err once after a group of reads.
type Reader struct {
	buf      []byte
	pos      int
	sections int
	err      error
}

// NewReader validates the header of blob.
func NewReader(blob []byte) (*Reader, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("reading header: %w", ErrShortBuffer)
	}
	if [4]byte(blob[0:4]) != magic {
		return nil, fmt.Errorf("bad magic %q: %w", blob[0:4], ErrSchemaMismatch)
	}
	if v := binary.LittleEndian.Uint16(blob[4:]); v != SchemaVersion {
		return nil, fmt.Errorf("schema version %d, want %d: %w", v, SchemaVersion, ErrSchemaMismatch)
	}
	return &Reader{
		buf:      blob,
		pos:      headerSize,
		sections: int(binary.LittleEndian.Uint16(blob[6:])),
	}, nil
}

// SectionCount is the number of sections the header announces.
func (r *Reader) SectionCount() int {
	return r.sections
}

// Section returns a reader bounded to the next section.
func (r *Reader) Section() (*Reader, error) {
	n := int(r.Uint32())
	if r.err != nil {
		return nil, r.err
	}
	if n > len(r.buf)-r.pos {
		r.err = fmt.Errorf("section of %d bytes: %w", n, ErrShortBuffer)
		return nil, r.err
	}
	sub := &Reader{buf: r.buf[r.pos : r.pos+n]}
	r.pos += n
	return sub, nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.pos < n {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Int32() int {
	return int(int32(r.Uint32()))
}

func (r *Reader) Float64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (r *Reader) Bool() bool {
	b := r.take(1)
	return b != nil && b[0] != 0
}

func (r *Reader) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{r.Float64(), r.Float64(), r.Float64()}
}

func (r *Reader) Quat() mgl64.Quat {
	v := r.Vec3()
	return mgl64.Quat{W: r.Float64(), V: v}
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Err returns the first read error.
func (r *Reader) Err() error {
	return r.err
}

// Close reports an error when reads failed or bytes were left unread, which means the
// writer used a different field layout.
func (r *Reader) Close() error {
	if r.err != nil {
		return r.err
	}
	if n := r.Remaining(); n != 0 {
		return fmt.Errorf("%d unread bytes: %w", n, ErrSchemaMismatch)
	}
	return nil
}
