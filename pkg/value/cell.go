package value

import (
	"fmt"

	"github.com/twpayne/go-geom"
)

// StorageMode says how the cells of one column hold their data.
type StorageMode int

const (
	// StorageNative cells hold a materialized geom.T.
	StorageNative StorageMode = iota
	// StorageBinaryEncoded cells hold the raw bytes the value was read from; conversion is deferred.
	StorageBinaryEncoded
	// StorageIndexed cells hold a position in the column's deduplication table.
	StorageIndexed
)

func (m StorageMode) String() string {
	switch m {
	case StorageNative:
		return "normal"
	case StorageBinaryEncoded:
		return "binary-string"
	case StorageIndexed:
		return "indexed"
	default:
		return fmt.Sprintf("storage(%d)", int(m))
	}
}

// Cell is one column value. Exactly one of the payload fields is meaningful, selected by mode.
// Cells are small values; copying a cell shares its byte buffer, which is never mutated.
type Cell struct {
	mode  StorageMode
	valid bool
	geom  geom.T
	raw   []byte
	index int
}

// Null returns a null cell for a column stored with mode.
func Null(mode StorageMode) Cell {
	return Cell{mode: mode}
}

// Native wraps a geometry. A nil geometry gives a null cell.
func Native(g geom.T) Cell {
	return Cell{mode: StorageNative, valid: g != nil, geom: g}
}

// BinaryEncoded wraps a lazily converted byte buffer. A nil buffer gives a null cell.
func BinaryEncoded(b []byte) Cell {
	return Cell{mode: StorageBinaryEncoded, valid: b != nil, raw: b}
}

// Indexed references entry i of the column's index table.
func Indexed(i int) Cell {
	return Cell{mode: StorageIndexed, valid: true, index: i}
}

func (c Cell) Mode() StorageMode {
	return c.mode
}

func (c Cell) IsNull() bool {
	return !c.valid
}

// Get the native geometry held by a StorageNative cell
func (c Cell) Native() geom.T {
	return c.geom
}

// Get the raw bytes held by a StorageBinaryEncoded cell
func (c Cell) Bytes() []byte {
	return c.raw
}

// Get the table index held by a StorageIndexed cell
func (c Cell) Index() int {
	return c.index
}
