// Package wire moves geometry cells over the pipeline's row stream.
//
// A frame starts with one null-flag byte (0 = present, any other value = null). Nothing
// follows a null flag.
// A present value then follows the column's storage mode:
//
//	native          int32 big-endian length L, then L bytes of WKB (or EWKB)
//	binary-encoded  int32 big-endian length L (-1 = null), then L bytes
//	indexed         int32 big-endian table index
package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"

	"geomvalue/pkg/errs"
	"geomvalue/pkg/value"
)

const (
	flagPresent byte = 0
	flagNull    byte = 1
)

// WriteValue writes one cell of column typ to w.
func WriteValue(w io.Writer, typ *value.GeometryType, c value.Cell) error {
	if c.Mode() != typ.StorageMode() {
		return errs.New(errs.TypeMismatch, typ.String(), "cell stored as %s in a %s column", c.Mode(), typ.StorageMode())
	}

	if c.Mode() == value.StorageIndexed && !c.IsNull() && (c.Index() < 0 || c.Index() > math.MaxInt32) {
		return errs.New(errs.TypeMismatch, typ.String(), "index %d does not fit the index frame", c.Index())
	}

	flag := flagPresent
	if c.IsNull() {
		flag = flagNull
	}
	if err := writeByte(w, flag); err != nil {
		return writeFailure(typ, err)
	}
	if c.IsNull() {
		return nil
	}

	var err error
	switch typ.StorageMode() {
	case value.StorageNative:
		var b []byte
		b, err = marshal(c.Native(), typ.WireFormat())
		if err != nil {
			return errs.Wrap(errs.MalformedGeometry, typ.String(), err, "unable to encode geometry")
		}
		err = WriteBinaryString(w, b)
	case value.StorageBinaryEncoded:
		err = WriteBinaryString(w, c.Bytes())
	case value.StorageIndexed:
		err = WriteInteger(w, int32(c.Index()))
	default:
		return errs.New(errs.UnknownStorageMode, typ.String(), "unknown storage type %d", int(typ.StorageMode()))
	}
	if err != nil {
		return writeFailure(typ, err)
	}

	return nil
}

// ReadValue reads one cell of column typ from r. It returns io.EOF unchanged when r is
// exhausted before the first byte of the frame.
func ReadValue(r io.Reader, typ *value.GeometryType) (value.Cell, error) {
	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		if err == io.EOF {
			return value.Cell{}, io.EOF
		}
		return value.Cell{}, readFailure(typ, err)
	}
	if flag[0] != flagPresent {
		return value.Null(typ.StorageMode()), nil
	}

	switch typ.StorageMode() {
	case value.StorageNative:
		n, err := ReadInteger(r)
		if err != nil {
			return value.Cell{}, readFailure(typ, err)
		}
		if n < 0 {
			return value.Cell{}, errs.New(errs.MalformedGeometry, typ.String(), "negative geometry length %d", n)
		}
		b, err := readN(r, int64(n))
		if err != nil {
			return value.Cell{}, readFailure(typ, err)
		}
		g, err := unmarshal(b, typ.WireFormat())
		if err != nil {
			return value.Cell{}, errs.Wrap(errs.MalformedGeometry, typ.String(), err, "unable to decode geometry")
		}
		return value.Native(g), nil
	case value.StorageBinaryEncoded:
		b, err := ReadBinaryString(r)
		if err != nil {
			return value.Cell{}, readFailure(typ, err)
		}
		return value.BinaryEncoded(b), nil
	case value.StorageIndexed:
		i, err := ReadInteger(r)
		if err != nil {
			return value.Cell{}, readFailure(typ, err)
		}
		return value.Indexed(int(i)), nil
	default:
		return value.Cell{}, errs.New(errs.UnknownStorageMode, typ.String(), "unknown storage type %d", int(typ.StorageMode()))
	}
}

// WriteBinaryString writes a length-prefixed byte string. A nil slice is written as length -1.
func WriteBinaryString(w io.Writer, b []byte) error {
	if b == nil {
		return WriteInteger(w, -1)
	}
	if err := WriteInteger(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBinaryString reads a frame written by WriteBinaryString. Length -1 gives nil.
func ReadBinaryString(r io.Reader) ([]byte, error) {
	n, err := ReadInteger(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	return readN(r, int64(n))
}

func WriteInteger(w io.Writer, v int32) error {
	return binary.Write(w, binary.BigEndian, v)
}

func ReadInteger(r io.Reader) (int32, error) {
	var v int32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return v, nil
}

// readN reads exactly n bytes without trusting n for the allocation size.
func readN(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	copied, err := io.CopyN(&buf, r, n)
	if err != nil {
		if err == io.EOF && copied < n {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func marshal(g geom.T, f value.WireFormat) ([]byte, error) {
	if f == value.WireEWKB {
		return ewkb.Marshal(g, wkb.XDR)
	}
	return wkb.Marshal(g, wkb.XDR)
}

func unmarshal(b []byte, f value.WireFormat) (geom.T, error) {
	if f == value.WireEWKB {
		return ewkb.Unmarshal(b)
	}
	return wkb.Unmarshal(b)
}

func readFailure(typ *value.GeometryType, err error) error {
	switch {
	case errs.IsTimeout(err):
		return err
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return errs.Wrap(errs.UnexpectedEndOfStream, typ.String(), err, "stream ended inside a geometry value")
	default:
		return errs.Wrap(errs.TransportError, typ.String(), err, "unable to read value geometry from input stream")
	}
}

func writeFailure(typ *value.GeometryType, err error) error {
	if errs.IsTimeout(err) {
		return err
	}
	return errs.Wrap(errs.TransportError, typ.String(), err, "unable to write value geometry to output stream")
}
