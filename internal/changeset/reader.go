package changeset

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/crittermap/geodelta/internal/core"
)

const maxColumns = 65536

// Reader is a pull parser over a changeset byte stream. NextEntry
// advances past table headers transparently and returns the next
// change record; io.EOF signals the end of the stream.
type Reader struct {
	buf    []byte
	offset int64
	table  *Table
}

// NewReader returns a reader over the given bytes.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// OpenReader reads the whole changeset file into memory and returns
// a reader over it.
func OpenReader(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ErrIO, err, "unable to open changeset %s", path)
	}
	return NewReader(data), nil
}

// IsEmpty reports whether the stream holds no bytes at all.
func (r *Reader) IsEmpty() bool { return len(r.buf) == 0 }

// Rewind returns the reader to the beginning of the stream and clears
// the current table state.
func (r *Reader) Rewind() {
	r.offset = 0
	r.table = nil
}

// NextEntry returns the next change record, or io.EOF at the end of
// the stream. The returned entry's Table is shared with every other
// entry of the same table group.
func (r *Reader) NextEntry() (*Entry, error) {
	for {
		if r.offset >= int64(len(r.buf)) {
			return nil, io.EOF
		}
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch {
		case b == 'T':
			if err := r.readTableHeader(); err != nil {
				return nil, err
			}
			// fall through to the next record
		case OpType(b) == OpInsert || OpType(b) == OpUpdate || OpType(b) == OpDelete:
			return r.readRecord(OpType(b))
		default:
			return nil, core.FormatError(r.offset-1, "unknown entry type %d", b)
		}
	}
}

func (r *Reader) readRecord(op OpType) (*Entry, error) {
	if r.table == nil {
		return nil, core.FormatError(r.offset-1, "change record before any table header")
	}
	// reserved "indirect change" flag, ignored
	if _, err := r.readByte(); err != nil {
		return nil, err
	}
	e := &Entry{Op: op, Table: r.table}
	var err error
	if op != OpInsert {
		if e.OldValues, err = r.readRowValues(); err != nil {
			return nil, err
		}
	}
	if op != OpDelete {
		if e.NewValues, err = r.readRowValues(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (r *Reader) readByte() (byte, error) {
	if r.offset >= int64(len(r.buf)) {
		return 0, core.FormatError(r.offset, "unexpected end of stream")
	}
	b := r.buf[r.offset]
	r.offset++
	return b, nil
}

// readVarint32 reads a varint that must fit a 32-bit result.
func (r *Reader) readVarint32() (uint32, error) {
	v, n := getVarint(r.buf[r.offset:])
	if n == 0 {
		return 0, core.FormatError(r.offset, "truncated varint")
	}
	if v > math.MaxUint32 {
		return 0, core.FormatError(r.offset, "varint out of 32-bit range: %d", v)
	}
	r.offset += int64(n)
	return uint32(v), nil
}

func (r *Reader) readTableHeader() error {
	nCol, err := r.readVarint32()
	if err != nil {
		return err
	}
	if nCol > maxColumns {
		return core.FormatError(r.offset, "unexpected number of columns: %d", nCol)
	}
	t := &Table{PrimaryKeys: make([]bool, nCol)}
	for i := range t.PrimaryKeys {
		b, err := r.readByte()
		if err != nil {
			return err
		}
		t.PrimaryKeys[i] = b != 0
	}
	if t.Name, err = r.readName(); err != nil {
		return err
	}
	r.table = t
	return nil
}

func (r *Reader) readName() (string, error) {
	end := r.offset
	for end < int64(len(r.buf)) && r.buf[end] != 0 {
		end++
	}
	if end >= int64(len(r.buf)) {
		return "", core.FormatError(r.offset, "unterminated table name")
	}
	name := string(r.buf[r.offset:end])
	r.offset = end + 1
	return name, nil
}

func (r *Reader) readRowValues() ([]Value, error) {
	values := make([]Value, r.table.ColumnCount())
	for i := range values {
		t, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch ValueType(t) {
		case TypeInt:
			bits, err := r.readUint64()
			if err != nil {
				return nil, err
			}
			values[i] = NewInt(int64(bits))
		case TypeDouble:
			bits, err := r.readUint64()
			if err != nil {
				return nil, err
			}
			values[i] = NewDouble(math.Float64frombits(bits))
		case TypeText, TypeBlob:
			n, err := r.readVarint32()
			if err != nil {
				return nil, err
			}
			if r.offset+int64(n) > int64(len(r.buf)) {
				return nil, core.FormatError(r.offset, "truncated %s payload of %d bytes", ValueType(t), n)
			}
			payload := r.buf[r.offset : r.offset+int64(n)]
			r.offset += int64(n)
			if ValueType(t) == TypeText {
				values[i] = NewText(string(payload))
			} else {
				values[i] = NewBlob(payload)
			}
		case TypeNull:
			values[i] = Null()
		case TypeUndefined:
			values[i] = Undefined()
		default:
			return nil, core.FormatError(r.offset-1, "unexpected value type %d", t)
		}
	}
	return values, nil
}

func (r *Reader) readUint64() (uint64, error) {
	if r.offset+8 > int64(len(r.buf)) {
		return 0, core.FormatError(r.offset, "truncated 8-byte value")
	}
	v := binary.BigEndian.Uint64(r.buf[r.offset:])
	r.offset += 8
	return v, nil
}
