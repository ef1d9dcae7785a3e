package wire

import "testing"

func TestFixedAndLenPrefixedRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUint32LE(7).WriteFixed([]byte{1, 2, 3, 4}).WriteBytesWithLen([]byte("hello"))

	r := NewReader(w.Bytes())
	n, err := r.ReadUint32LE()
	if err != nil || n != 7 {
		t.Fatalf("ReadUint32LE = %d, %v, want 7, nil", n, err)
	}
	fixed, err := r.ReadFixed(4)
	if err != nil || string(fixed) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("ReadFixed = %v, %v", fixed, err)
	}
	b, err := r.ReadBytesWithLen()
	if err != nil || string(b) != "hello" {
		t.Fatalf("ReadBytesWithLen = %q, %v, want hello", b, err)
	}
	if !r.Empty() {
		t.Fatal("reader should be fully consumed")
	}
}

func TestReadTruncated(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.ReadUint32LE(); err != ErrTruncated {
		t.Fatalf("ReadUint32LE on short input = %v, want ErrTruncated", err)
	}
}

func TestVecRoundTrip(t *testing.T) {
	w := NewWriter()
	WriteVec(w, []uint32{1, 2, 3}, func(w *Writer, v uint32) { w.WriteUint32LE(v) })

	r := NewReader(w.Bytes())
	got, err := ReadVec(r, func(r *Reader) (uint32, error) { return r.ReadUint32LE() })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("ReadVec = %v, want [1 2 3]", got)
	}
}
