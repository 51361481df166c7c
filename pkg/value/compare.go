package value

import (
	"strings"

	"golang.org/x/text/cases"
)

type Ordering int

const (
	LessThan    Ordering = -1
	Equal       Ordering = 0
	GreaterThan Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case LessThan:
		return "less"
	case GreaterThan:
		return "greater"
	default:
		return "equal"
	}
}

// Compare orders two cells of this column by their EWKT text. Nulls sort first and are equal
// to each other; SortDescending inverts only the non-null comparison.
func (t *GeometryType) Compare(a, b Cell) (Ordering, error) {
	if err := t.checkMode(a); err != nil {
		return Equal, err
	}
	if err := t.checkMode(b); err != nil {
		return Equal, err
	}

	switch {
	case a.IsNull() && b.IsNull():
		return Equal, nil
	case a.IsNull():
		return LessThan, nil
	case b.IsNull():
		return GreaterThan, nil
	}

	as, err := t.text(a)
	if err != nil {
		return Equal, err
	}
	bs, err := t.text(b)
	if err != nil {
		return Equal, err
	}

	if t.caseInsensitive {
		as, bs = cases.Fold().String(as), cases.Fold().String(bs)
	}

	cmp := Ordering(strings.Compare(as, bs))
	if t.sortDescending {
		cmp = -cmp
	}

	return cmp, nil
}
