package commitment

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestCommitRoundTrip(t *testing.T) {
	c, o, err := New(42)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !c.Verify(o) {
		t.Errorf("commitment should verify against its own opening")
	}
	if o.Value != 42 {
		t.Errorf("opening value = %d, want 42", o.Value)
	}

	// A different opening must not verify.
	wrong := &Opening{Value: 43, Blinding: o.Blinding}
	if c.Verify(wrong) {
		t.Errorf("commitment verified against a wrong value")
	}
}

func TestHomomorphicAdd(t *testing.T) {
	c1, o1, err := New(100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c2, o2, err := New(250)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sum := c1.Add(c2)
	oSum, err := o1.Add(o2)
	if err != nil {
		t.Fatalf("opening Add failed: %v", err)
	}
	if oSum.Value != 350 {
		t.Errorf("summed opening value = %d, want 350", oSum.Value)
	}
	if !sum.Verify(oSum) {
		t.Errorf("homomorphic sum should verify against summed opening")
	}
}

func TestHomomorphicSub(t *testing.T) {
	c1, o1, err := New(1000)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c2, o2, err := New(400)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	diff := c1.Sub(c2)
	oDiff, err := o1.Sub(o2)
	if err != nil {
		t.Fatalf("opening Sub failed: %v", err)
	}
	if oDiff.Value != 600 {
		t.Errorf("difference value = %d, want 600", oDiff.Value)
	}
	if !diff.Verify(oDiff) {
		t.Errorf("homomorphic difference should verify against subtracted opening")
	}
}

func TestOpeningOverflow(t *testing.T) {
	a := ZeroOpening(^uint64(0))
	b := ZeroOpening(1)
	if _, err := a.Add(b); err != ErrValueOverflow {
		t.Errorf("Add past uint64 max: err = %v, want ErrValueOverflow", err)
	}
	if _, err := b.Sub(a); err != ErrValueUnderflow {
		t.Errorf("Sub below zero: err = %v, want ErrValueUnderflow", err)
	}
}

func TestNoBlindingCommitment(t *testing.T) {
	c := WithNoBlinding(7)
	if !c.Verify(ZeroOpening(7)) {
		t.Errorf("zero-blinding commitment should verify against zero opening")
	}
	// Subtracting a public constant from a hidden commitment must stay
	// consistent with the opening algebra.
	hidden, o, err := New(50)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	shifted := hidden.Sub(c)
	oShifted, err := o.Sub(ZeroOpening(7))
	if err != nil {
		t.Fatalf("opening Sub failed: %v", err)
	}
	if !shifted.Verify(oShifted) {
		t.Errorf("shifted commitment should verify")
	}
}

func TestCommitmentSerialization(t *testing.T) {
	c, _, err := New(99)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	raw := c.Marshal()
	if len(raw) != ByteLen {
		t.Fatalf("marshalled length = %d, want %d", len(raw), ByteLen)
	}
	back, err := UnmarshalCommitment(raw)
	if err != nil {
		t.Fatalf("UnmarshalCommitment failed: %v", err)
	}
	if !c.Equal(back) {
		t.Errorf("commitment changed across marshal round trip")
	}

	if _, err := UnmarshalCommitment([]byte("garbage")); err == nil {
		t.Errorf("expected error for malformed commitment bytes")
	}
}

func TestCommitmentJSON(t *testing.T) {
	c, _, err := New(123)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	var back Commitment
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}
	if !c.Equal(&back) {
		t.Errorf("commitment changed across JSON round trip")
	}
}

func TestOpeningBytes(t *testing.T) {
	_, o, err := New(777)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	raw := o.Bytes()
	if len(raw) != OpeningByteLen {
		t.Fatalf("opening bytes length = %d, want %d", len(raw), OpeningByteLen)
	}
	back, err := OpeningFromBytes(raw)
	if err != nil {
		t.Fatalf("OpeningFromBytes failed: %v", err)
	}
	if back.Value != o.Value || !back.Blinding.Equal(&o.Blinding) {
		t.Errorf("opening changed across byte round trip")
	}
	if !bytes.Equal(back.Bytes(), raw) {
		t.Errorf("re-serialized opening differs")
	}
	if _, err := OpeningFromBytes(raw[:10]); err == nil {
		t.Errorf("expected error for truncated opening")
	}
}
