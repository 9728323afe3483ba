package godb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotCountAndHeaderMath(t *testing.T) {
	// An int field costs 8 bytes on disk (int64); with a 4096 byte
	// page, slotCount = floor(4096*8 / (8*8+1)) = floor(32768/65) = 504,
	// header = ceil(504/8) = 63.
	desc := &TupleDesc{Fields: []FieldType{{Fname: "id", Ftype: IntType}}}
	sc := slotCountFor(4096, desc.bytesPerTuple())
	require.Equal(t, 504, sc)
	require.Equal(t, 63, headerBytesFor(sc))
}

func newTestHeapPage(t *testing.T) (*heapPage, *TupleDesc) {
	t.Helper()
	desc := &TupleDesc{Fields: []FieldType{
		{Fname: "id", Ftype: IntType},
		{Fname: "name", Ftype: StringType},
	}}
	hp, err := newHeapPage(desc, 0, nil)
	require.NoError(t, err)
	return hp, desc
}

func TestHeapPageInsertDeleteRoundTrip(t *testing.T) {
	hp, desc := newTestHeapPage(t)

	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "a"}}}
	rid, err := hp.insertTuple(tup)
	require.NoError(t, err)
	require.Equal(t, hp.getNumSlots()-1, hp.getNumEmptySlots())

	buf, err := hp.toBuffer()
	require.NoError(t, err)
	require.Equal(t, PageSize, buf.Len())

	hp2, _ := newHeapPage(desc, 0, nil)
	require.NoError(t, hp2.initFromBuffer(buf))
	require.Equal(t, hp.getNumSlots()-1, hp2.getNumEmptySlots(), "round trip lost the inserted tuple")

	require.NoError(t, hp.deleteTuple(rid))
	require.Equal(t, hp.getNumSlots(), hp.getNumEmptySlots())
	require.Error(t, hp.deleteTuple(rid), "deleting an already-empty slot should fail")
}

func TestHeapPageFullReturnsErrPageFull(t *testing.T) {
	hp, desc := newTestHeapPage(t)
	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "a"}}}
	for i := 0; i < hp.getNumSlots(); i++ {
		_, err := hp.insertTuple(tup)
		require.NoErrorf(t, err, "unexpected error filling page at slot %d", i)
	}
	_, err := hp.insertTuple(tup)
	require.ErrorIs(t, err, ErrPageFull)
}

func TestHeapPageRoundTripPreservesBitmapPadding(t *testing.T) {
	hp, desc := newTestHeapPage(t)
	buf, err := hp.toBuffer()
	require.NoError(t, err)
	raw := buf.Bytes()
	lastByte := raw[hp.header-1]
	usedBits := hp.slotCount - (hp.header-1)*8
	for i := usedBits; i < 8; i++ {
		require.Zerof(t, lastByte&(1<<uint(i)), "padding bit %d of header's last byte is set on an empty page", i)
	}
}
