package godb

import (
	"bytes"
	"testing"

	"github.com/d4l3k/messagediff"
)

func testDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{
		{Fname: "id", Ftype: IntType},
		{Fname: "name", Ftype: StringType},
	}}
}

func TestTupleRoundTrip(t *testing.T) {
	desc := testDesc()
	orig := &Tuple{
		Desc:   *desc,
		Fields: []DBValue{IntField{Value: 42}, StringField{Value: "hello"}},
	}

	var buf bytes.Buffer
	if err := orig.writeTo(&buf); err != nil {
		t.Fatalf("writeTo: %v", err)
	}
	if buf.Len() != desc.bytesPerTuple() {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), desc.bytesPerTuple())
	}

	got, err := readTupleFrom(&buf, desc)
	if err != nil {
		t.Fatalf("readTupleFrom: %v", err)
	}
	if !orig.equals(got) {
		diff, equal := messagediff.PrettyDiff(orig.Fields, got.Fields)
		t.Fatalf("round trip mismatch (equal=%v):\n%s", equal, diff)
	}
}

func TestStringFieldTruncatesTrailingZeroes(t *testing.T) {
	desc := &TupleDesc{Fields: []FieldType{{Fname: "s", Ftype: StringType}}}
	orig := &Tuple{Desc: *desc, Fields: []DBValue{StringField{Value: "hi"}}}

	var buf bytes.Buffer
	if err := orig.writeTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := readTupleFrom(&buf, desc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields[0].(StringField).Value != "hi" {
		t.Fatalf("got %q, want %q", got.Fields[0].(StringField).Value, "hi")
	}
}

func TestBytesPerTuple(t *testing.T) {
	desc := testDesc()
	want := 8 + StringLength
	if got := desc.bytesPerTuple(); got != want {
		t.Fatalf("bytesPerTuple() = %d, want %d", got, want)
	}
}
