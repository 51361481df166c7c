package value

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/twpayne/go-geom"

	"geomvalue/pkg/errs"
	"geomvalue/pkg/geometry"
)

// WireFormat selects the WKB flavour written by the pipeline wire codec.
type WireFormat int

const (
	// WireWKB is plain big-endian WKB. The SRID is not carried; decoded values have SRID 0.
	WireWKB WireFormat = iota
	// WireEWKB carries the SRID inside the WKB header.
	WireEWKB
)

func (f WireFormat) String() string {
	if f == WireEWKB {
		return "ewkb"
	}
	return "wkb"
}

// ParseWireFormat reads "wkb" or "ewkb", case-insensitively.
func ParseWireFormat(s string) (WireFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wkb":
		return WireWKB, nil
	case "ewkb":
		return WireEWKB, nil
	default:
		return WireWKB, fmt.Errorf("unknown wire format %q", s)
	}
}

// GeometryType describes one geometry column: its name, how its cells are stored and how they
// render, sort and travel on the wire. A configured GeometryType is read-only and can be shared
// between goroutines.
type GeometryType struct {
	name            string
	mode            StorageMode
	index           *IndexTable
	converter       BinaryConverter
	caseInsensitive bool
	sortDescending  bool
	length          int
	outputPadding   bool
	wireFormat      WireFormat
}

func NewGeometryType(name string) *GeometryType {
	return &GeometryType{
		name:      name,
		mode:      StorageNative,
		converter: TextConverter{},
		length:    -1,
	}
}

// String is the column descriptor used in error messages.
func (t *GeometryType) String() string {
	return t.name + " Geometry"
}

func (t *GeometryType) Name() string {
	return t.name
}

func (t *GeometryType) Kind() Kind {
	return KindGeometry
}

func (t *GeometryType) StorageMode() StorageMode {
	return t.mode
}

func (t *GeometryType) SetStorageMode(mode StorageMode) *GeometryType {
	t.mode = mode
	return t
}

func (t *GeometryType) IndexTable() *IndexTable {
	return t.index
}

func (t *GeometryType) SetIndexTable(index *IndexTable) *GeometryType {
	t.index = index
	return t
}

func (t *GeometryType) SetBinaryConverter(c BinaryConverter) *GeometryType {
	t.converter = c
	return t
}

func (t *GeometryType) CaseInsensitive() bool {
	return t.caseInsensitive
}

func (t *GeometryType) SetCaseInsensitive(v bool) *GeometryType {
	t.caseInsensitive = v
	return t
}

func (t *GeometryType) SortDescending() bool {
	return t.sortDescending
}

func (t *GeometryType) SetSortDescending(v bool) *GeometryType {
	t.sortDescending = v
	return t
}

func (t *GeometryType) Length() int {
	return t.length
}

func (t *GeometryType) SetLength(n int) *GeometryType {
	t.length = n
	return t
}

func (t *GeometryType) SetOutputPadding(v bool) *GeometryType {
	t.outputPadding = v
	return t
}

func (t *GeometryType) WireFormat() WireFormat {
	return t.wireFormat
}

func (t *GeometryType) SetWireFormat(f WireFormat) *GeometryType {
	t.wireFormat = f
	return t
}

func (t *GeometryType) checkMode(c Cell) error {
	if c.mode != t.mode {
		return errs.New(errs.TypeMismatch, t.String(), "cell stored as %s in a %s column", c.mode, t.mode)
	}
	return nil
}

// Geometry resolves a cell of this column to its geometry. Null cells give nil.
func (t *GeometryType) Geometry(c Cell) (geom.T, error) {
	if err := t.checkMode(c); err != nil {
		return nil, err
	}
	if c.IsNull() {
		return nil, nil
	}

	switch t.mode {
	case StorageNative:
		return c.geom, nil
	case StorageBinaryEncoded:
		s, err := t.converter.Text(c.raw)
		if err != nil {
			return nil, errs.Wrap(errs.ConversionError, t.String(), err, "unable to convert binary string to a geometry")
		}
		return t.ToNative(s)
	case StorageIndexed:
		g, err := t.index.Get(c.index)
		if err != nil {
			return nil, errs.Wrap(errs.TypeMismatch, t.String(), err, "unable to resolve indexed value")
		}
		return g, nil
	default:
		return nil, errs.New(errs.UnknownStorageMode, t.String(), "unknown storage type %d specified", int(t.mode))
	}
}

// NativeDataType returns the cell as a geom.T, or nil for a null cell.
func (t *GeometryType) NativeDataType(c Cell) (any, error) {
	g, err := t.Geometry(c)
	if err != nil || g == nil {
		return nil, err
	}
	return g, nil
}

// RenderText renders a cell as EWKT. A null cell renders as the empty string.
func (t *GeometryType) RenderText(c Cell) (string, error) {
	s, _, err := t.RenderTextOK(c)
	return s, err
}

// RenderTextOK is RenderText that also reports whether the cell held a value.
func (t *GeometryType) RenderTextOK(c Cell) (string, bool, error) {
	s, err := t.text(c)
	if err != nil {
		return "", false, err
	}
	return t.pad(s), !c.IsNull(), nil
}

// text is the unpadded rendering of a cell.
func (t *GeometryType) text(c Cell) (string, error) {
	if err := t.checkMode(c); err != nil {
		return "", err
	}
	if c.IsNull() {
		return "", nil
	}

	if t.mode == StorageBinaryEncoded {
		s, err := t.converter.Text(c.raw)
		if err != nil {
			return "", errs.Wrap(errs.ConversionError, t.String(), err, "unable to convert binary string to text")
		}
		return s, nil
	}

	g, err := t.Geometry(c)
	if err != nil {
		return "", err
	}
	return t.render(g)
}

func (t *GeometryType) render(g geom.T) (string, error) {
	s, err := geometry.EWKT(g)
	if err != nil {
		return "", errs.Wrap(errs.MalformedGeometry, t.String(), err, "unable to render geometry as text")
	}
	return s, nil
}

func (t *GeometryType) pad(s string) string {
	if !t.outputPadding || t.length <= 0 {
		return s
	}
	return runewidth.FillRight(runewidth.Truncate(s, t.length, ""), t.length)
}

// ToNative converts an arbitrary input to a geometry: a geom.T is returned as is, a string is
// read as WKT with an optional SRID=<n>; prefix, nil stays nil. Anything else fails.
func (t *GeometryType) ToNative(obj any) (geom.T, error) {
	switch v := obj.(type) {
	case nil:
		return nil, nil
	case geom.T:
		return v, nil
	case string:
		g, err := geometry.ParseEWKT(v)
		if err != nil {
			return nil, errs.Wrap(errs.ConversionError, t.String(), err, "unexpected conversion error while converting value [%s] to a Geometry", v)
		}
		return g, nil
	default:
		return nil, errs.New(errs.ConversionError, t.String(), "I don't know how to convert a %s to a geometry", kindOf(obj))
	}
}

func kindOf(obj any) Kind {
	switch obj.(type) {
	case float32, float64:
		return KindNumber
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInteger
	case *big.Int, *big.Float, *big.Rat:
		return KindBigNumber
	case bool:
		return KindBoolean
	case time.Time:
		return KindDate
	case []byte:
		return KindBinary
	default:
		return KindSerializable
	}
}

// Convert turns a value of another kind into a geometry. Only strings and geometries convert.
func (t *GeometryType) Convert(v Value) (geom.T, error) {
	switch v.Kind {
	case KindString:
		if s, ok := v.Data.(string); ok {
			return t.ToNative(s)
		}
		if v.Data == nil && v.Text == "" {
			return nil, nil
		}
		return t.ToNative(v.Text)
	case KindGeometry:
		if v.Data == nil {
			return nil, nil
		}
		g, ok := v.Data.(geom.T)
		if !ok {
			return nil, errs.New(errs.TypeMismatch, t.String(), "geometry value holds %T", v.Data)
		}
		return g, nil
	default:
		return nil, errs.New(errs.UnsupportedConversion, t.String(), "%s : can't be converted to a geometry", v.Kind)
	}
}

func (t *GeometryType) ConvertFrom(v Value) (any, error) {
	g, err := t.Convert(v)
	if err != nil || g == nil {
		return nil, err
	}
	return g, nil
}

// Clone copies a cell. Native geometries are deep copied; other modes share their immutable data.
func (t *GeometryType) Clone(c Cell) (Cell, error) {
	if err := t.checkMode(c); err != nil {
		return Cell{}, err
	}
	if c.mode != StorageNative || c.IsNull() {
		return c, nil
	}

	g, err := geometry.Clone(c.geom)
	if err != nil {
		return Cell{}, errs.Wrap(errs.MalformedGeometry, t.String(), err, "unable to clone geometry")
	}

	return Native(g), nil
}

func (t *GeometryType) notConvertible(target string) error {
	return errs.New(errs.NotConvertible, t.String(), "A geometry can't be converted to a %s", target)
}

func (t *GeometryType) Number(Cell) (float64, error) {
	return 0, t.notConvertible("number")
}

func (t *GeometryType) Integer(Cell) (int64, error) {
	return 0, t.notConvertible("integer")
}

func (t *GeometryType) BigNumber(Cell) (*big.Float, error) {
	return nil, t.notConvertible("big number")
}

func (t *GeometryType) Boolean(Cell) (bool, error) {
	return false, t.notConvertible("boolean")
}

func (t *GeometryType) Date(Cell) (time.Time, error) {
	return time.Time{}, t.notConvertible("date")
}
