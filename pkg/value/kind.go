package value

// Kind is the closed set of value kinds a pipeline row can carry. Only KindGeometry is
// implemented here; the others exist so conversions can name their source.
type Kind int

const (
	KindNone Kind = iota
	KindNumber
	KindString
	KindDate
	KindBoolean
	KindInteger
	KindBigNumber
	KindSerializable
	KindBinary
	KindTimestamp
	KindInternetAddress
	KindGeometry
)

var kindNames = [...]string{
	KindNone:            "None",
	KindNumber:          "Number",
	KindString:          "String",
	KindDate:            "Date",
	KindBoolean:         "Boolean",
	KindInteger:         "Integer",
	KindBigNumber:       "BigNumber",
	KindSerializable:    "Serializable",
	KindBinary:          "Binary",
	KindTimestamp:       "Timestamp",
	KindInternetAddress: "Internet Address",
	KindGeometry:        "Geometry",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// Value is a value of another kind handed to a conversion. Text holds the textual rendering
// the owning value type produced for it; it is only consulted for KindString.
type Value struct {
	Kind Kind
	Data any
	Text string
}

// Operations is the per-kind operation table the generic value system dispatches through.
type Operations interface {
	Kind() Kind
	RenderText(c Cell) (string, error)
	NativeDataType(c Cell) (any, error)
	ConvertFrom(v Value) (any, error)
	Clone(c Cell) (Cell, error)
	Compare(a, b Cell) (Ordering, error)
}

var _ Operations = (*GeometryType)(nil)
