// commitment.go - Pedersen commitments for the confidential-transfer protocol.
//
// A commitment C = v*G + r*H hides a 64-bit value v behind a random blinding
// factor r. Commitments are additively homomorphic, which is what lets the
// ledger subtract a hidden transfer amount from a hidden balance without
// learning either. G is the standard BN254 G1 generator; H is obtained by
// hashing to the curve so that nobody knows log_G(H).

package commitment

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// ByteLen is the size of a marshalled commitment (uncompressed G1 point).
const ByteLen = 64

// OpeningByteLen is the size of a serialized opening: 8 bytes of value
// (little-endian) followed by a 32-byte blinding scalar.
const OpeningByteLen = 40

var (
	// ErrInvalidCommitment is returned when commitment bytes do not decode
	// to a curve point.
	ErrInvalidCommitment = errors.New("invalid pedersen commitment")
	// ErrInvalidOpening is returned when opening bytes are malformed.
	ErrInvalidOpening = errors.New("invalid commitment opening")
	// ErrValueOverflow is returned when opening arithmetic overflows uint64.
	ErrValueOverflow = errors.New("committed value overflow")
	// ErrValueUnderflow is returned when opening subtraction goes negative.
	ErrValueUnderflow = errors.New("committed value underflow")
)

var (
	genG bn254.G1Affine
	genH bn254.G1Affine
)

func init() {
	_, _, g1, _ := bn254.Generators()
	genG = g1

	h, err := bn254.HashToG1([]byte("veilcash.pedersen.H"), []byte("veilcash-pedersen-v1"))
	if err != nil {
		panic(fmt.Sprintf("pedersen generator derivation failed: %v", err))
	}
	genH = h
}

// Generators returns the two Pedersen bases (G for values, H for blindings).
// Shared with the range-proof construction, which commits to individual bits
// against the same bases.
func Generators() (g, h bn254.G1Affine) {
	return genG, genH
}

// Commitment is a Pedersen commitment to a hidden uint64 value.
// It never exposes the value or blinding; only an explicit opening check
// can confirm a claimed pair.
type Commitment struct {
	point bn254.G1Affine
}

// Opening is the secret pair (value, blinding) behind a commitment.
// Whoever holds the opening can prove what the commitment conceals.
type Opening struct {
	Value    uint64
	Blinding fr.Element
}

// New creates a commitment to value with a fresh random blinding factor,
// returning the commitment together with its opening. The blinding is drawn
// from crypto/rand via the field element sampler; a predictable blinding
// would let an observer brute-force the committed value.
func New(value uint64) (*Commitment, *Opening, error) {
	var blinding fr.Element
	if _, err := blinding.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("blinding generation failed: %w", err)
	}
	opening := &Opening{Value: value, Blinding: blinding}
	return FromOpening(opening), opening, nil
}

// FromOpening recomputes the commitment for a known opening.
func FromOpening(o *Opening) *Commitment {
	var vG, rH, p bn254.G1Affine
	vG.ScalarMultiplication(&genG, new(big.Int).SetUint64(o.Value))
	rH.ScalarMultiplication(&genH, o.Blinding.BigInt(new(big.Int)))
	p.Add(&vG, &rH)
	return &Commitment{point: p}
}

// WithNoBlinding commits to a value with a zero blinding factor. Such
// commitments are not hiding; they are used only for public constants like
// the initial account balance and the minimum transfer amount.
func WithNoBlinding(value uint64) *Commitment {
	var o Opening
	o.Value = value
	return FromOpening(&o)
}

// ZeroOpening returns the opening of a zero-blinding commitment to value.
func ZeroOpening(value uint64) *Opening {
	return &Opening{Value: value}
}

// Add returns the homomorphic sum of two commitments:
// Comm(v1;r1) + Comm(v2;r2) = Comm(v1+v2; r1+r2).
func (c *Commitment) Add(other *Commitment) *Commitment {
	var p bn254.G1Affine
	p.Add(&c.point, &other.point)
	return &Commitment{point: p}
}

// Sub returns the homomorphic difference of two commitments.
func (c *Commitment) Sub(other *Commitment) *Commitment {
	var neg, p bn254.G1Affine
	neg.Neg(&other.point)
	p.Add(&c.point, &neg)
	return &Commitment{point: p}
}

// Equal reports whether two commitments are the same curve point.
func (c *Commitment) Equal(other *Commitment) bool {
	return c.point.Equal(&other.point)
}

// Verify checks whether the commitment corresponds to the claimed opening.
func (c *Commitment) Verify(o *Opening) bool {
	return c.Equal(FromOpening(o))
}

// Point returns a copy of the underlying curve point. Used by the
// range-proof verifier, which folds the commitment into its own algebra.
func (c *Commitment) Point() bn254.G1Affine {
	return c.point
}

// FromPoint wraps a curve point as a commitment.
func FromPoint(p bn254.G1Affine) *Commitment {
	return &Commitment{point: p}
}

// Marshal serializes the commitment as an uncompressed G1 point.
func (c *Commitment) Marshal() []byte {
	return c.point.Marshal()
}

// UnmarshalCommitment decodes a commitment from its marshalled form.
func UnmarshalCommitment(data []byte) (*Commitment, error) {
	var p bn254.G1Affine
	if err := p.Unmarshal(data); err != nil {
		return nil, ErrInvalidCommitment
	}
	return &Commitment{point: p}, nil
}

// MarshalJSON encodes the commitment as a base64 string, matching the
// JSON wire and snapshot formats used throughout the module.
func (c Commitment) MarshalJSON() ([]byte, error) {
	return []byte(`"` + base64.StdEncoding.EncodeToString(c.Marshal()) + `"`), nil
}

// UnmarshalJSON decodes a base64-encoded commitment.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ErrInvalidCommitment
	}
	raw, err := base64.StdEncoding.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return ErrInvalidCommitment
	}
	return c.point.Unmarshal(raw)
}

// Add returns the sum of two openings. Fails on uint64 overflow rather than
// silently wrapping: an opening whose value wrapped no longer matches the
// commitment algebra over the full-size scalar field.
func (o *Opening) Add(other *Opening) (*Opening, error) {
	sum := o.Value + other.Value
	if sum < o.Value {
		return nil, ErrValueOverflow
	}
	var blinding fr.Element
	blinding.Add(&o.Blinding, &other.Blinding)
	return &Opening{Value: sum, Blinding: blinding}, nil
}

// Sub returns the difference of two openings, failing on underflow.
func (o *Opening) Sub(other *Opening) (*Opening, error) {
	if other.Value > o.Value {
		return nil, ErrValueUnderflow
	}
	var blinding fr.Element
	blinding.Sub(&o.Blinding, &other.Blinding)
	return &Opening{Value: o.Value - other.Value, Blinding: blinding}, nil
}

// Bytes serializes the opening: value (8 bytes little-endian) then blinding
// (32 bytes). This is the payload carried inside disclosure envelopes.
func (o *Opening) Bytes() []byte {
	out := make([]byte, OpeningByteLen)
	binary.LittleEndian.PutUint64(out[:8], o.Value)
	b := o.Blinding.Bytes()
	copy(out[8:], b[:])
	return out
}

// OpeningFromBytes deserializes an opening produced by Bytes.
func OpeningFromBytes(data []byte) (*Opening, error) {
	if len(data) != OpeningByteLen {
		return nil, ErrInvalidOpening
	}
	var o Opening
	o.Value = binary.LittleEndian.Uint64(data[:8])
	o.Blinding.SetBytes(data[8:])
	return &o, nil
}
