package bytecode

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
)

func validContainer(t *testing.T) []byte {
	t.Helper()
	var body []byte

	body = append(body, byte(OpSymTableStart))
	body = binary.BigEndian.AppendUint16(body, 2)
	body = append(body, "x"...)
	body = append(body, 0)
	body = append(body, "y"...)
	body = append(body, 0)

	body = append(body, byte(OpValTableStart))
	body = binary.BigEndian.AppendUint16(body, 3)
	body = append(body, byte(OpNumberType))
	body = append(body, FormatNumber(42)...)
	body = append(body, 0)
	body = append(body, byte(OpStringType))
	body = append(body, "hello"...)
	body = append(body, 0)
	body = append(body, byte(OpFuncType))
	body = binary.BigEndian.AppendUint16(body, 1)
	body = append(body, 0)

	page0 := []byte{byte(OpLoadConst), 0, 0, byte(OpHalt)}
	page1 := []byte{byte(OpRet), byte(OpHalt)}
	for _, page := range [][]byte{page0, page1} {
		body = append(body, byte(OpCodeSegmentStart))
		body = binary.BigEndian.AppendUint16(body, uint16(len(page)))
		body = append(body, page...)
	}

	header := append([]byte{}, Magic...)
	header = binary.BigEndian.AppendUint16(header, VersionMajor)
	header = binary.BigEndian.AppendUint16(header, VersionMinor)
	header = binary.BigEndian.AppendUint16(header, VersionPatch)
	header = binary.BigEndian.AppendUint64(header, 1700000000)

	hash := sha256.Sum256(body)
	out := append(header, hash[:]...)
	return append(out, body...)
}

func TestReadDecodesTablesAndPages(t *testing.T) {
	c, err := Read(validContainer(t))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(c.Symbols) != 2 || c.Symbols[0] != "x" || c.Symbols[1] != "y" {
		t.Errorf("unexpected symbols: %v", c.Symbols)
	}

	if len(c.Values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(c.Values))
	}
	if c.Values[0].Type != NumberVal || c.Values[0].Number != 42 {
		t.Errorf("unexpected number constant: %+v", c.Values[0])
	}
	if c.Values[1].Type != StringVal || c.Values[1].Str != "hello" {
		t.Errorf("unexpected string constant: %+v", c.Values[1])
	}
	if c.Values[2].Type != PageAddrVal || c.Values[2].Page != 1 {
		t.Errorf("unexpected page constant: %+v", c.Values[2])
	}

	if c.PageCount() != 2 {
		t.Fatalf("expected 2 pages, got %d", c.PageCount())
	}
	start, end := c.PageSpan(0)
	if end-start != 4 {
		t.Errorf("page 0 should span 4 bytes, spans %d", end-start)
	}
	start, end = c.PageSpan(1)
	if end-start != 2 || c.Pages[start] != byte(OpRet) {
		t.Errorf("page 1 decoded wrong")
	}

	if c.Timestamp != 1700000000 {
		t.Errorf("unexpected timestamp %d", c.Timestamp)
	}
}

func TestReadErrors(t *testing.T) {
	good := validContainer(t)

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[2] = 'q'
		if _, err := Read(bad); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("hash mismatch", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[len(bad)-1] ^= 1
		if _, err := Read(bad); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("newer major", func(t *testing.T) {
		bad := append([]byte{}, good...)
		binary.BigEndian.PutUint16(bad[4:6], VersionMajor+1)
		if _, err := Read(bad); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("short file", func(t *testing.T) {
		if _, err := Read(good[:10]); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("truncated code segment", func(t *testing.T) {
		// keep the header, hash and tables but cut the last code segment
		// short; the hash no longer matches, which must be caught first
		if _, err := Read(good[:len(good)-3]); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestPagePatching(t *testing.T) {
	p := NewPage()
	p.WriteOp(OpJump)
	pos := p.Len()
	p.WriteU16(0)
	p.WriteOp(OpHalt)

	p.PatchU16(pos, 0x1234)
	if p.Code[pos] != 0x12 || p.Code[pos+1] != 0x34 {
		t.Errorf("patch failed: %v", p.Code)
	}
	if p.Len() != 4 {
		t.Errorf("expected length 4, got %d", p.Len())
	}
}

func TestOperatorTable(t *testing.T) {
	if len(Operators) != int(OpNot-OpFirstOperator)+1 {
		t.Fatalf("operator name table and opcode range disagree: %d names", len(Operators))
	}

	offset, ok := IsOperator("+")
	if !ok || OpFirstOperator+OpCode(offset) != OpAdd {
		t.Error("+ must map to OpAdd")
	}
	offset, ok = IsOperator("not")
	if !ok || OpFirstOperator+OpCode(offset) != OpNot {
		t.Error("not must map to OpNot")
	}
	if _, ok := IsOperator("frobnicate"); ok {
		t.Error("frobnicate is not an operator")
	}
}

func TestFormatNumberIsStable(t *testing.T) {
	if FormatNumber(42) != FormatNumber(42) {
		t.Error("number formatting must be deterministic")
	}
	if FormatNumber(1.5) == FormatNumber(2.5) {
		t.Error("distinct numbers must format differently")
	}
}
