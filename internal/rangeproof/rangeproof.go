// rangeproof.go - zero-knowledge range proofs over Pedersen commitments.
//
// A proof shows that a commitment C = v*G + r*H hides a value in [0, 2^n)
// without revealing v or r. The construction decomposes v into n bits,
// commits to each bit individually, and attaches a Fiat-Shamir OR proof per
// bit showing the bit commitment opens to 0 or 1. The verifier additionally
// checks that the weighted sum of bit commitments reassembles C, which ties
// the bit decomposition to the original commitment.
//
// Proofs are bound to their bit width: a proof over n bits only verifies
// when the verifier asks for exactly n bits. Composite commitments (such as
// a balance minus an amount) are only meaningful when both sides were proved
// at the same width, so the width check happens before any group arithmetic.

package rangeproof

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/sha3"

	"veilcash/internal/commitment"
)

// DefaultBits is the conventional proof width. Committed amounts and
// balances in the protocol are uint64, so proofs span the full width.
const DefaultBits = 64

// MaxBits bounds the proof width; committed values are uint64.
const MaxBits = 64

// domainTag separates range-proof challenges from any other use of the hash.
var domainTag = []byte("veilcash.rangeproof.v1")

var (
	// ErrInvalidProof is returned when a proof fails verification.
	ErrInvalidProof = errors.New("range proof verification failed")
	// ErrMalformedProof is returned when proof bytes cannot be decoded.
	ErrMalformedProof = errors.New("malformed range proof")
	// ErrBitWidthMismatch is returned when a proof's width differs from the
	// width the verifier expects.
	ErrBitWidthMismatch = errors.New("range proof bit width mismatch")
	// ErrOutOfRange is returned by Prove when the value does not fit in the
	// requested width. Honest callers never hit this.
	ErrOutOfRange = errors.New("value exceeds range proof width")
)

// bitProof is the per-bit OR proof that a bit commitment opens to 0 or 1.
// The two branches share a challenge split c = c0 + c1; the branch matching
// the real bit is proved honestly while the other is simulated.
type bitProof struct {
	comm   bn254.G1Affine // commitment to the bit
	a0, a1 bn254.G1Affine // announcements for the b=0 and b=1 branches
	c0, s0 fr.Element     // challenge share and response, b=0 branch
	c1, s1 fr.Element     // challenge share and response, b=1 branch
}

// Proof demonstrates that a committed value lies in [0, 2^n) where n is the
// width it was constructed with.
type Proof struct {
	bits []bitProof
}

const bitProofLen = 3*commitment.ByteLen + 4*fr.Bytes

// ByteLen returns the size of a marshalled proof of the given width.
func ByteLen(bits int) int {
	return 2 + bits*bitProofLen
}

// Bits returns the proof's width.
func (p *Proof) Bits() int {
	return len(p.bits)
}

// Prove builds a proof of the given width for the commitment determined by
// opening o. The caller supplies the opening because the proof must be bound
// to the exact blinding factor used in the commitment it accompanies.
func Prove(o *commitment.Opening, bits int) (*Proof, error) {
	if bits < 1 || bits > MaxBits {
		return nil, fmt.Errorf("unsupported width %d", bits)
	}
	if bits < MaxBits && o.Value>>uint(bits) != 0 {
		return nil, ErrOutOfRange
	}

	g, h := commitment.Generators()
	target := commitment.FromOpening(o).Point()

	proof := &Proof{bits: make([]bitProof, bits)}
	blindings := make([]fr.Element, bits)

	// Blindings for all but the top bit are random; the top bit's blinding
	// is solved so the weighted blinding sum equals the original blinding,
	// making sum(2^i * C_i) land exactly on the target commitment.
	var weighted fr.Element
	var weight fr.Element
	weight.SetOne()
	for i := 0; i < bits-1; i++ {
		if _, err := blindings[i].SetRandom(); err != nil {
			return nil, fmt.Errorf("bit blinding generation failed: %w", err)
		}
		var term fr.Element
		term.Mul(&weight, &blindings[i])
		weighted.Add(&weighted, &term)
		weight.Double(&weight)
	}
	var rem fr.Element
	rem.Sub(&o.Blinding, &weighted)
	var invTop fr.Element
	invTop.Inverse(&weight) // weight is now 2^(bits-1), nonzero
	blindings[bits-1].Mul(&rem, &invTop)

	for i := 0; i < bits; i++ {
		bit := (o.Value >> uint(i)) & 1
		bp := &proof.bits[i]
		bp.comm = commitPoint(bit, &blindings[i], &g, &h)

		// Honest announcement for the true branch, simulation for the other.
		var nonce fr.Element
		if _, err := nonce.SetRandom(); err != nil {
			return nil, fmt.Errorf("nonce generation failed: %w", err)
		}
		if bit == 0 {
			if _, err := bp.c1.SetRandom(); err != nil {
				return nil, fmt.Errorf("challenge simulation failed: %w", err)
			}
			if _, err := bp.s1.SetRandom(); err != nil {
				return nil, fmt.Errorf("response simulation failed: %w", err)
			}
			// A1 = s1*H - c1*(C - G)
			var shifted bn254.G1Affine
			var negG bn254.G1Affine
			negG.Neg(&g)
			shifted.Add(&bp.comm, &negG)
			bp.a1 = simulatedAnnouncement(&bp.s1, &bp.c1, &shifted, &h)
			bp.a0 = scalarMul(&h, &nonce)
		} else {
			if _, err := bp.c0.SetRandom(); err != nil {
				return nil, fmt.Errorf("challenge simulation failed: %w", err)
			}
			if _, err := bp.s0.SetRandom(); err != nil {
				return nil, fmt.Errorf("response simulation failed: %w", err)
			}
			// A0 = s0*H - c0*C
			bp.a0 = simulatedAnnouncement(&bp.s0, &bp.c0, &bp.comm, &h)
			bp.a1 = scalarMul(&h, &nonce)
		}

		c := challenge(&target, bits, i, bp)
		if bit == 0 {
			bp.c0.Sub(&c, &bp.c1)
			// s0 = nonce + c0 * r_i
			var t fr.Element
			t.Mul(&bp.c0, &blindings[i])
			bp.s0.Add(&nonce, &t)
		} else {
			bp.c1.Sub(&c, &bp.c0)
			var t fr.Element
			t.Mul(&bp.c1, &blindings[i])
			bp.s1.Add(&nonce, &t)
		}
	}
	return proof, nil
}

// Verify checks the proof against a commitment at the expected width. It
// returns nil only when the widths agree, every per-bit OR proof holds, and
// the weighted bit commitments sum to c.
func (p *Proof) Verify(c *commitment.Commitment, bits int) error {
	if len(p.bits) != bits {
		return ErrBitWidthMismatch
	}

	g, h := commitment.Generators()
	target := c.Point()

	var negG bn254.G1Affine
	negG.Neg(&g)

	var sum bn254.G1Affine
	weight := big.NewInt(1)
	for i := 0; i < bits; i++ {
		bp := &p.bits[i]

		ch := challenge(&target, bits, i, bp)
		var split fr.Element
		split.Add(&bp.c0, &bp.c1)
		if !split.Equal(&ch) {
			return ErrInvalidProof
		}

		// s0*H == A0 + c0*C
		if !responseHolds(&bp.s0, &bp.a0, &bp.c0, &bp.comm, &h) {
			return ErrInvalidProof
		}
		// s1*H == A1 + c1*(C - G)
		var shifted bn254.G1Affine
		shifted.Add(&bp.comm, &negG)
		if !responseHolds(&bp.s1, &bp.a1, &bp.c1, &shifted, &h) {
			return ErrInvalidProof
		}

		var term bn254.G1Affine
		term.ScalarMultiplication(&bp.comm, weight)
		sum.Add(&sum, &term)
		weight = new(big.Int).Lsh(weight, 1)
	}
	if !sum.Equal(&target) {
		return ErrInvalidProof
	}
	return nil
}

func commitPoint(bit uint64, blinding *fr.Element, g, h *bn254.G1Affine) bn254.G1Affine {
	p := scalarMul(h, blinding)
	if bit == 1 {
		p.Add(&p, g)
	}
	return p
}

func scalarMul(p *bn254.G1Affine, s *fr.Element) bn254.G1Affine {
	var out bn254.G1Affine
	out.ScalarMultiplication(p, s.BigInt(new(big.Int)))
	return out
}

// simulatedAnnouncement computes s*H - c*P, the announcement that makes the
// simulated branch's verification equation hold by construction.
func simulatedAnnouncement(s, c *fr.Element, p, h *bn254.G1Affine) bn254.G1Affine {
	sh := scalarMul(h, s)
	cp := scalarMul(p, c)
	var neg bn254.G1Affine
	neg.Neg(&cp)
	var out bn254.G1Affine
	out.Add(&sh, &neg)
	return out
}

// responseHolds checks s*H == A + c*P.
func responseHolds(s *fr.Element, a *bn254.G1Affine, c *fr.Element, p, h *bn254.G1Affine) bool {
	lhs := scalarMul(h, s)
	cp := scalarMul(p, c)
	var rhs bn254.G1Affine
	rhs.Add(a, &cp)
	return lhs.Equal(&rhs)
}

// challenge derives the Fiat-Shamir challenge for one bit. It binds the
// target commitment, the proof width, and the bit index into the transcript
// so per-bit proofs cannot be transplanted between proofs, reinterpreted at
// another width, or reordered within one proof.
func challenge(target *bn254.G1Affine, bits, index int, bp *bitProof) fr.Element {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(domainTag)
	hasher.Write(target.Marshal())
	var widths [2]byte
	binary.BigEndian.PutUint16(widths[:], uint16(bits))
	hasher.Write(widths[:])
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(index))
	hasher.Write(idx[:])
	hasher.Write(bp.comm.Marshal())
	hasher.Write(bp.a0.Marshal())
	hasher.Write(bp.a1.Marshal())

	var c fr.Element
	c.SetBytes(hasher.Sum(nil))
	return c
}

// Marshal serializes the proof: a big-endian width prefix followed by the
// fixed-size per-bit records.
func (p *Proof) Marshal() []byte {
	out := make([]byte, 2, ByteLen(len(p.bits)))
	binary.BigEndian.PutUint16(out, uint16(len(p.bits)))
	for i := range p.bits {
		bp := &p.bits[i]
		out = append(out, bp.comm.Marshal()...)
		out = append(out, bp.a0.Marshal()...)
		out = append(out, bp.a1.Marshal()...)
		for _, s := range []*fr.Element{&bp.c0, &bp.s0, &bp.c1, &bp.s1} {
			b := s.Bytes()
			out = append(out, b[:]...)
		}
	}
	return out
}

// Unmarshal decodes a proof produced by Marshal.
func Unmarshal(data []byte) (*Proof, error) {
	if len(data) < 2 {
		return nil, ErrMalformedProof
	}
	bits := int(binary.BigEndian.Uint16(data))
	if bits < 1 || bits > MaxBits || len(data) != ByteLen(bits) {
		return nil, ErrMalformedProof
	}
	p := &Proof{bits: make([]bitProof, bits)}
	off := 2
	point := func(dst *bn254.G1Affine) error {
		if err := dst.Unmarshal(data[off : off+commitment.ByteLen]); err != nil {
			return ErrMalformedProof
		}
		off += commitment.ByteLen
		return nil
	}
	scalar := func(dst *fr.Element) {
		dst.SetBytes(data[off : off+fr.Bytes])
		off += fr.Bytes
	}
	for i := range p.bits {
		bp := &p.bits[i]
		if err := point(&bp.comm); err != nil {
			return nil, err
		}
		if err := point(&bp.a0); err != nil {
			return nil, err
		}
		if err := point(&bp.a1); err != nil {
			return nil, err
		}
		scalar(&bp.c0)
		scalar(&bp.s0)
		scalar(&bp.c1)
		scalar(&bp.s1)
	}
	return p, nil
}

// MarshalJSON encodes the proof as base64, matching the module's JSON wire
// format for opaque cryptographic blobs.
func (p Proof) MarshalJSON() ([]byte, error) {
	return []byte(`"` + base64.StdEncoding.EncodeToString(p.Marshal()) + `"`), nil
}

// UnmarshalJSON decodes a base64-encoded proof.
func (p *Proof) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ErrMalformedProof
	}
	raw, err := base64.StdEncoding.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return ErrMalformedProof
	}
	decoded, err := Unmarshal(raw)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}
