package bytecode

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/Kannupriyasingh/Ark/internal/errors"
)

// Current container format version. The loader accepts containers whose major
// matches and whose minor is not newer than ours.
const (
	VersionMajor uint16 = 1
	VersionMinor uint16 = 0
	VersionPatch uint16 = 0
)

// Magic is the 4 byte tag opening every container.
var Magic = []byte{'a', 'r', 'k', 0}

// HeaderSize is the byte count before the SHA-256 digest.
const HeaderSize = 18

// HashSize is the SHA-256 digest length.
const HashSize = sha256.Size

type ValType byte

const (
	NumberVal ValType = iota
	StringVal
	PageAddrVal
)

// ValTableElem is one constant-table entry: a tagged number, string, or
// function page address.
type ValTableElem struct {
	Type   ValType
	Number float64
	Str    string
	Page   uint16
}

func NumberElem(n float64) ValTableElem { return ValTableElem{Type: NumberVal, Number: n} }
func StringElem(s string) ValTableElem  { return ValTableElem{Type: StringVal, Str: s} }
func PageElem(page uint16) ValTableElem { return ValTableElem{Type: PageAddrVal, Page: page} }

// FormatNumber renders a number constant the way it is stored in the value
// table, so that identical input always serialises to identical bytes.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', 6, 64)
}

// Container is a decoded bytecode file: header fields, both tables, and the
// code pages.
type Container struct {
	Major, Minor, Patch uint16
	Timestamp           uint64
	Hash                []byte
	Symbols             []string
	Values              []ValTableElem
	Pages               []byte // all code segments, concatenated
	PageOffsets         []int  // page p spans Pages[PageOffsets[p]:PageOffsets[p+1]]
}

// PageCount returns the number of code pages.
func (c *Container) PageCount() int {
	return len(c.PageOffsets)
}

// PageSpan returns the byte range of page p inside Pages.
func (c *Container) PageSpan(p int) (int, int) {
	start := c.PageOffsets[p]
	end := len(c.Pages)
	if p+1 < len(c.PageOffsets) {
		end = c.PageOffsets[p+1]
	}
	return start, end
}

// Read decodes and verifies a container. The magic, version compatibility and
// content hash are all checked before anything is returned.
func Read(data []byte) (*Container, error) {
	if len(data) < HeaderSize+HashSize {
		return nil, errors.NewContainerError("truncated file: missing header")
	}
	if !bytes.Equal(data[0:4], Magic) {
		return nil, errors.NewContainerError("not an ark bytecode file (bad magic)")
	}

	c := &Container{
		Major:     binary.BigEndian.Uint16(data[4:6]),
		Minor:     binary.BigEndian.Uint16(data[6:8]),
		Patch:     binary.BigEndian.Uint16(data[8:10]),
		Timestamp: binary.BigEndian.Uint64(data[10:18]),
		Hash:      data[18 : 18+HashSize],
	}

	if c.Major != VersionMajor || c.Minor > VersionMinor {
		return nil, errors.NewContainerError(fmt.Sprintf(
			"incompatible bytecode version %d.%d.%d (runtime is %d.%d.%d)",
			c.Major, c.Minor, c.Patch, VersionMajor, VersionMinor, VersionPatch))
	}

	sum := sha256.Sum256(data[HeaderSize+HashSize:])
	if !bytes.Equal(sum[:], c.Hash) {
		return nil, errors.NewContainerError("content hash mismatch, file is corrupted")
	}

	r := &reader{data: data, pos: HeaderSize + HashSize}
	if err := r.symbolTable(c); err != nil {
		return nil, err
	}
	if err := r.valueTable(c); err != nil {
		return nil, err
	}
	if err := r.codeSegments(c); err != nil {
		return nil, err
	}
	return c, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, errors.NewContainerError("unexpected end of file")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, errors.NewContainerError("unexpected end of file")
	}
	n := binary.BigEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	return n, nil
}

// cstring reads bytes up to the next NUL and consumes the NUL.
func (r *reader) cstring() (string, error) {
	end := bytes.IndexByte(r.data[r.pos:], 0)
	if end < 0 {
		return "", errors.NewContainerError("unterminated string in table")
	}
	s := string(r.data[r.pos : r.pos+end])
	r.pos += end + 1
	return s, nil
}

func (r *reader) symbolTable(c *Container) error {
	b, err := r.byte()
	if err != nil {
		return err
	}
	if OpCode(b) != OpSymTableStart {
		return errors.NewContainerError("symbol table marker not found")
	}
	count, err := r.u16()
	if err != nil {
		return err
	}
	c.Symbols = make([]string, 0, count)
	for i := uint16(0); i < count; i++ {
		s, err := r.cstring()
		if err != nil {
			return err
		}
		c.Symbols = append(c.Symbols, s)
	}
	return nil
}

func (r *reader) valueTable(c *Container) error {
	b, err := r.byte()
	if err != nil {
		return err
	}
	if OpCode(b) != OpValTableStart {
		return errors.NewContainerError("value table marker not found")
	}
	count, err := r.u16()
	if err != nil {
		return err
	}
	c.Values = make([]ValTableElem, 0, count)
	for i := uint16(0); i < count; i++ {
		tag, err := r.byte()
		if err != nil {
			return err
		}
		switch OpCode(tag) {
		case OpNumberType:
			s, err := r.cstring()
			if err != nil {
				return err
			}
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return errors.NewContainerError("malformed number constant: " + s)
			}
			c.Values = append(c.Values, NumberElem(n))
		case OpStringType:
			s, err := r.cstring()
			if err != nil {
				return err
			}
			c.Values = append(c.Values, StringElem(s))
		case OpFuncType:
			page, err := r.u16()
			if err != nil {
				return err
			}
			// the u16 payload is followed by the entry separator
			if nul, err := r.byte(); err != nil {
				return err
			} else if nul != 0 {
				return errors.NewContainerError("malformed function constant")
			}
			c.Values = append(c.Values, PageElem(page))
		default:
			return errors.NewContainerError(fmt.Sprintf("unknown value type tag 0x%02x", tag))
		}
	}
	return nil
}

func (r *reader) codeSegments(c *Container) error {
	for r.remaining() > 0 {
		b, err := r.byte()
		if err != nil {
			return err
		}
		if OpCode(b) != OpCodeSegmentStart {
			return errors.NewContainerError("code segment marker not found")
		}
		length, err := r.u16()
		if err != nil {
			return err
		}
		if r.remaining() < int(length) {
			return errors.NewContainerError("truncated code segment")
		}
		c.PageOffsets = append(c.PageOffsets, len(c.Pages))
		c.Pages = append(c.Pages, r.data[r.pos:r.pos+int(length)]...)
		r.pos += int(length)
	}
	if len(c.PageOffsets) == 0 {
		return errors.NewContainerError("no code segments")
	}
	return nil
}
