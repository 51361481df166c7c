package value

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// IndexTable is the per-column table of distinct geometries referenced by StorageIndexed cells.
// It is immutable once built and safe for concurrent readers.
type IndexTable struct {
	values []geom.T
}

// NewIndexTable builds a table over values. The slice is owned by the table afterwards.
func NewIndexTable(values []geom.T) *IndexTable {
	return &IndexTable{values: values}
}

func (t *IndexTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.values)
}

// Get the geometry at position i
func (t *IndexTable) Get(i int) (geom.T, error) {
	if t == nil {
		return nil, fmt.Errorf("no index table")
	}
	if i < 0 || i >= len(t.values) {
		return nil, fmt.Errorf("index %d out of range [0,%d)", i, len(t.values))
	}
	return t.values[i], nil
}

// Values returns the table entries in index order. Callers must not modify them.
func (t *IndexTable) Values() []geom.T {
	if t == nil {
		return nil
	}
	return t.values
}

// IndexBuilder collects the distinct geometries of a batch. Distinctness is by EWKB encoding,
// so two geometries with the same coordinates but different SRIDs are distinct.
// An IndexBuilder must not be used from several goroutines.
type IndexBuilder struct {
	values []geom.T
	keys   [][]byte
	byHash map[uint64][]int
}

func NewIndexBuilder() *IndexBuilder {
	return &IndexBuilder{byHash: make(map[uint64][]int)}
}

// Add returns an indexed cell for g, reusing the existing entry when an equal geometry was
// added before. A nil geometry yields a null cell.
func (b *IndexBuilder) Add(g geom.T) (Cell, error) {
	if g == nil {
		return Null(StorageIndexed), nil
	}

	key, err := ewkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return Cell{}, fmt.Errorf("failed to encode index key: %w", err)
	}

	h := xxhash.Sum64(key)
	for _, i := range b.byHash[h] {
		if bytes.Equal(b.keys[i], key) {
			return Indexed(i), nil
		}
	}

	i := len(b.values)
	b.values = append(b.values, g)
	b.keys = append(b.keys, key)
	b.byHash[h] = append(b.byHash[h], i)

	return Indexed(i), nil
}

func (b *IndexBuilder) Len() int {
	return len(b.values)
}

// Table freezes the collected geometries into a read-only table. The builder must not be
// used afterwards.
func (b *IndexBuilder) Table() *IndexTable {
	t := NewIndexTable(b.values)
	b.values, b.keys, b.byHash = nil, nil, nil
	return t
}
