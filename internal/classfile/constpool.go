package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// constPool records, for every 1-based pool index, the entry tag and the
// offset of its body (just past the tag byte). Bodies are decoded on demand.
type constPool struct {
	buf     []byte
	tags    []uint8
	offsets []int
}

// readConstPool walks the pool once. Long and Double entries occupy two
// slots; the second slot keeps tag 0 and is never a valid reference.
func readConstPool(r *reader) *constPool {
	count := int(r.u2())
	cp := &constPool{
		buf:     r.buf,
		tags:    make([]uint8, count),
		offsets: make([]int, count),
	}
	for i := 1; i < count && r.err == nil; i++ {
		tag := r.u1()
		cp.tags[i] = tag
		cp.offsets[i] = r.pos
		switch tag {
		case tagUtf8:
			n := int(r.u2())
			r.skip(n)
		case tagInteger, tagFloat:
			r.skip(4)
		case tagLong, tagDouble:
			r.skip(8)
			i++
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			r.skip(2)
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType,
			tagDynamic, tagInvokeDynamic:
			r.skip(4)
		case tagMethodHandle:
			r.skip(3)
		default:
			r.pos--
			r.fail("unknown constant pool tag %d at index %d", tag, i)
		}
	}
	return cp
}

func (cp *constPool) entry(idx uint16, want uint8) (int, error) {
	i := int(idx)
	if i <= 0 || i >= len(cp.tags) {
		return 0, &MalformedError{Reason: fmt.Sprintf("constant pool index %d out of range [1,%d)", i, len(cp.tags))}
	}
	if cp.tags[i] != want {
		return 0, &MalformedError{
			Offset: cp.offsets[i],
			Reason: fmt.Sprintf("constant pool index %d has tag %d, want %d", i, cp.tags[i], want),
		}
	}
	return cp.offsets[i], nil
}

func (cp *constPool) utf8(idx uint16) (string, error) {
	off, err := cp.entry(idx, tagUtf8)
	if err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(cp.buf[off:]))
	s, ok := decodeModifiedUTF8(cp.buf[off+2 : off+2+n])
	if !ok {
		return "", &MalformedError{Offset: off, Reason: fmt.Sprintf("invalid modified UTF-8 at index %d", idx)}
	}
	return s, nil
}

// className resolves a CONSTANT_Class entry to its internal name.
func (cp *constPool) className(idx uint16) (string, error) {
	off, err := cp.entry(idx, tagClass)
	if err != nil {
		return "", err
	}
	return cp.utf8(binary.BigEndian.Uint16(cp.buf[off:]))
}

func (cp *constPool) integer(idx uint16) (int32, error) {
	off, err := cp.entry(idx, tagInteger)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(cp.buf[off:])), nil
}

func (cp *constPool) float(idx uint16) (float32, error) {
	off, err := cp.entry(idx, tagFloat)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(cp.buf[off:])), nil
}

func (cp *constPool) long(idx uint16) (int64, error) {
	off, err := cp.entry(idx, tagLong)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(cp.buf[off:])), nil
}

func (cp *constPool) double(idx uint16) (float64, error) {
	off, err := cp.entry(idx, tagDouble)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(cp.buf[off:])), nil
}
