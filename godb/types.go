package godb

// PageSize is the fixed size, in bytes, of every page in every heap file.
// Treated as a process-lifetime constant: Open assigns it from
// Config.PageSize (see config.go) before any page is read; nothing else in
// the package assigns it.
var PageSize int = 4096

// StringLength is the fixed on-disk width, in bytes, of a StringType field.
const StringLength int = 32

// DBType is the type of a tuple field.
type DBType int

const (
	IntType DBType = iota
	StringType
)

func (t DBType) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	default:
		return "unknown"
	}
}

// bytesOnDisk returns the fixed on-disk width of a field of this type.
func (t DBType) bytesOnDisk() int {
	switch t {
	case StringType:
		return StringLength
	default:
		return 8 // int64
	}
}

// FieldType names one field of a tuple: its name and its DBType.
type FieldType struct {
	Fname string
	Ftype DBType
}

// TupleDesc is the "type" of a tuple: its ordered field names and types.
// This is the minimal tuple-descriptor surface the page store consumes
// (spec.md §6's "tuple descriptor able to report fixed byte width of a
// tuple"); expression evaluation, field projection, and join/order-by
// machinery belong to the query-execution operators, which are out of
// scope per spec.md §1.
type TupleDesc struct {
	Fields []FieldType
}

// bytesPerTuple returns the fixed on-disk width of a tuple of this
// descriptor: the sum of each field's on-disk width.
func (td *TupleDesc) bytesPerTuple() int {
	n := 0
	for _, f := range td.Fields {
		n += f.Ftype.bytesOnDisk()
	}
	return n
}

func (td *TupleDesc) equals(other *TupleDesc) bool {
	if len(td.Fields) != len(other.Fields) {
		return false
	}
	for i := range td.Fields {
		if td.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

func (td *TupleDesc) copy() *TupleDesc {
	fields := make([]FieldType, len(td.Fields))
	copy(fields, td.Fields)
	return &TupleDesc{Fields: fields}
}
