package rangeproof

import (
	"encoding/json"
	"testing"

	"veilcash/internal/commitment"
)

func proveValue(t *testing.T, value uint64) (*commitment.Commitment, *Proof) {
	t.Helper()
	c, o, err := commitment.New(value)
	if err != nil {
		t.Fatalf("commitment.New failed: %v", err)
	}
	proof, err := Prove(o, DefaultBits)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	return c, proof
}

func TestProveVerify(t *testing.T) {
	for _, value := range []uint64{0, 1, 2, 255, 1 << 32, ^uint64(0)} {
		c, proof := proveValue(t, value)
		if err := proof.Verify(c, DefaultBits); err != nil {
			t.Errorf("proof for %d rejected: %v", value, err)
		}
	}
}

func TestNarrowWidth(t *testing.T) {
	c, o, err := commitment.New(200)
	if err != nil {
		t.Fatalf("commitment.New failed: %v", err)
	}
	proof, err := Prove(o, 8)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	if proof.Bits() != 8 {
		t.Errorf("Bits() = %d, want 8", proof.Bits())
	}
	if err := proof.Verify(c, 8); err != nil {
		t.Errorf("8-bit proof rejected: %v", err)
	}
	// A proof only verifies at the width it was built for.
	if err := proof.Verify(c, DefaultBits); err != ErrBitWidthMismatch {
		t.Errorf("width mismatch: err = %v, want ErrBitWidthMismatch", err)
	}

	if _, err := Prove(o, 7); err != ErrOutOfRange {
		t.Errorf("out-of-range value: err = %v, want ErrOutOfRange", err)
	}
	if _, err := Prove(o, 0); err == nil {
		t.Error("Prove accepted width 0")
	}
	if _, err := Prove(o, MaxBits+1); err == nil {
		t.Error("Prove accepted width beyond MaxBits")
	}
}

func TestVerifyWrongCommitment(t *testing.T) {
	c, proof := proveValue(t, 500)
	other, _, err := commitment.New(500)
	if err != nil {
		t.Fatalf("commitment.New failed: %v", err)
	}
	// Same value, different blinding: the proof is bound to the exact
	// commitment point, not just the value.
	if err := proof.Verify(other, DefaultBits); err != ErrInvalidProof {
		t.Errorf("proof accepted for a different commitment: err = %v", err)
	}
	if err := proof.Verify(c, DefaultBits); err != nil {
		t.Errorf("proof rejected for its own commitment: %v", err)
	}
}

func TestVerifyAfterHomomorphicSub(t *testing.T) {
	// The protocol proves ranges over commitment differences, e.g. that a
	// balance minus a transfer amount is still non-negative.
	cBal, oBal, err := commitment.New(1000)
	if err != nil {
		t.Fatalf("commitment.New failed: %v", err)
	}
	cAmt, oAmt, err := commitment.New(300)
	if err != nil {
		t.Fatalf("commitment.New failed: %v", err)
	}
	oDiff, err := oBal.Sub(oAmt)
	if err != nil {
		t.Fatalf("opening Sub failed: %v", err)
	}
	proof, err := Prove(oDiff, DefaultBits)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	if err := proof.Verify(cBal.Sub(cAmt), DefaultBits); err != nil {
		t.Errorf("proof over commitment difference rejected: %v", err)
	}
}

func TestTamperedProofRejected(t *testing.T) {
	c, proof := proveValue(t, 12345)
	raw := proof.Marshal()
	raw[100] ^= 0x01
	tampered, err := Unmarshal(raw)
	if err != nil {
		// Flipping a point byte may already break decoding, which is an
		// acceptable way to reject.
		return
	}
	if err := tampered.Verify(c, DefaultBits); err != ErrInvalidProof {
		t.Errorf("tampered proof accepted: err = %v", err)
	}
}

func TestProofSerialization(t *testing.T) {
	c, proof := proveValue(t, 777)
	raw := proof.Marshal()
	if len(raw) != ByteLen(DefaultBits) {
		t.Fatalf("marshalled length = %d, want %d", len(raw), ByteLen(DefaultBits))
	}
	back, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := back.Verify(c, DefaultBits); err != nil {
		t.Errorf("decoded proof rejected: %v", err)
	}
	if _, err := Unmarshal(raw[:len(raw)-1]); err != ErrMalformedProof {
		t.Errorf("truncated proof: err = %v, want ErrMalformedProof", err)
	}
	if _, err := Unmarshal(nil); err != ErrMalformedProof {
		t.Errorf("empty proof: err = %v, want ErrMalformedProof", err)
	}
}

func TestProofJSON(t *testing.T) {
	c, proof := proveValue(t, 31337)
	data, err := json.Marshal(proof)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	var back Proof
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}
	if err := back.Verify(c, DefaultBits); err != nil {
		t.Errorf("JSON round-tripped proof rejected: %v", err)
	}
}
