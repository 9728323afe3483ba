package godb

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// DBValue is a tuple field's value.
type DBValue interface {
	isDBValue()
}

// IntField is an integer field value.
type IntField struct {
	Value int64
}

func (IntField) isDBValue() {}

// StringField is a string field value, truncated/padded to StringLength on
// disk.
type StringField struct {
	Value string
}

func (StringField) isDBValue() {}

// recordID identifies the page and slot a tuple was read from (or was most
// recently assigned on insert). It is an empty interface because different
// DBFile implementations use different concrete id shapes; HeapFile uses
// heapFileRid.
//
// Per spec.md's open question on post-delete record ids: deleteTuple does
// not null out a tuple's Rid. The slot is cleared in the page; the Rid
// value on the (now stale, in-memory) Tuple object is left pointing at the
// emptied slot.
type recordID interface{}

// Tuple is a fixed-width row: a descriptor plus one DBValue per field.
type Tuple struct {
	Desc   TupleDesc
	Fields []DBValue
	Rid    recordID
}

func writeIntField(b *bytes.Buffer, f IntField) error {
	return binary.Write(b, binary.LittleEndian, f.Value)
}

func writeStringField(b *bytes.Buffer, f StringField) error {
	padded := make([]byte, StringLength)
	copy(padded, []byte(f.Value))
	return binary.Write(b, binary.LittleEndian, padded)
}

// writeTo serializes the tuple's fields, in order, into b. Tuples are fixed
// width, so this is simply sequential field encoding; no length prefix is
// written.
func (t *Tuple) writeTo(b *bytes.Buffer) error {
	for _, f := range t.Fields {
		switch v := f.(type) {
		case IntField:
			if err := writeIntField(b, v); err != nil {
				return err
			}
		case StringField:
			if err := writeStringField(b, v); err != nil {
				return err
			}
		default:
			return GoDBError{TypeMismatchError, "unsupported field type"}
		}
	}
	return nil
}

func readIntField(b *bytes.Buffer) (IntField, error) {
	var v int64
	if err := binary.Read(b, binary.LittleEndian, &v); err != nil {
		return IntField{}, err
	}
	return IntField{Value: v}, nil
}

func readStringField(b *bytes.Buffer) (StringField, error) {
	buf := make([]byte, StringLength)
	if err := binary.Read(b, binary.LittleEndian, buf); err != nil {
		return StringField{}, err
	}
	return StringField{Value: strings.TrimRight(string(buf), "\x00")}, nil
}

// readTupleFrom decodes one tuple matching desc from b.
func readTupleFrom(b *bytes.Buffer, desc *TupleDesc) (*Tuple, error) {
	t := &Tuple{Desc: *desc, Fields: make([]DBValue, 0, len(desc.Fields))}
	for _, ft := range desc.Fields {
		switch ft.Ftype {
		case StringType:
			f, err := readStringField(b)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, f)
		default:
			f, err := readIntField(b)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, f)
		}
	}
	return t, nil
}

// equals compares two tuples field-by-field; used by tests (see
// messagediff-based variants for richer failure output).
func (t *Tuple) equals(other *Tuple) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.Desc.equals(&other.Desc) {
		return false
	}
	if len(t.Fields) != len(other.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}
