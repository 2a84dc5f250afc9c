// knowledge.go - proof of knowledge of a commitment opening.
//
// A Schnorr-style sigma proof that the prover knows (v, r) with
// C = v*G + r*H. It reveals nothing about the pair. The accept path uses it
// so the ledger can check that a receiver really decrypted a valid opening
// without the opening ever appearing on the wire.

package commitment

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/sha3"
)

// knowledgeTag separates opening-proof challenges from other hash uses.
var knowledgeTag = []byte("veilcash.opening-knowledge.v1")

// KnowledgeProofLen is the size of a marshalled knowledge proof.
const KnowledgeProofLen = ByteLen + 2*fr.Bytes

// KnowledgeProof demonstrates knowledge of a commitment's opening, bound to
// a caller-supplied context so it cannot be replayed elsewhere.
type KnowledgeProof struct {
	announcement bn254.G1Affine
	s1, s2       fr.Element
}

// ProveKnowledge builds a proof that the prover knows the opening o of its
// commitment. context binds the proof to its use site (e.g. a transfer id
// plus the accepting key).
func ProveKnowledge(o *Opening, context []byte) (*KnowledgeProof, error) {
	var k1, k2 fr.Element
	if _, err := k1.SetRandom(); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}
	if _, err := k2.SetRandom(); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	var a1, a2, announcement bn254.G1Affine
	a1.ScalarMultiplication(&genG, k1.BigInt(new(big.Int)))
	a2.ScalarMultiplication(&genH, k2.BigInt(new(big.Int)))
	announcement.Add(&a1, &a2)

	target := FromOpening(o).point
	c := knowledgeChallenge(&target, &announcement, context)

	var value fr.Element
	value.SetUint64(o.Value)

	var p KnowledgeProof
	p.announcement = announcement
	p.s1.Mul(&c, &value)
	p.s1.Add(&p.s1, &k1)
	p.s2.Mul(&c, &o.Blinding)
	p.s2.Add(&p.s2, &k2)
	return &p, nil
}

// Verify checks the proof against commitment c under the same context.
// It holds iff s1*G + s2*H == A + challenge*C.
func (p *KnowledgeProof) Verify(c *Commitment, context []byte) bool {
	ch := knowledgeChallenge(&c.point, &p.announcement, context)

	var lhs, l1, l2 bn254.G1Affine
	l1.ScalarMultiplication(&genG, p.s1.BigInt(new(big.Int)))
	l2.ScalarMultiplication(&genH, p.s2.BigInt(new(big.Int)))
	lhs.Add(&l1, &l2)

	var rhs, cc bn254.G1Affine
	cc.ScalarMultiplication(&c.point, ch.BigInt(new(big.Int)))
	rhs.Add(&p.announcement, &cc)

	return lhs.Equal(&rhs)
}

// Marshal serializes the proof as announcement || s1 || s2.
func (p *KnowledgeProof) Marshal() []byte {
	out := make([]byte, 0, KnowledgeProofLen)
	out = append(out, p.announcement.Marshal()...)
	b1 := p.s1.Bytes()
	b2 := p.s2.Bytes()
	out = append(out, b1[:]...)
	out = append(out, b2[:]...)
	return out
}

// UnmarshalKnowledgeProof decodes a proof produced by Marshal.
func UnmarshalKnowledgeProof(data []byte) (*KnowledgeProof, error) {
	if len(data) != KnowledgeProofLen {
		return nil, ErrInvalidOpening
	}
	var p KnowledgeProof
	if err := p.announcement.Unmarshal(data[:ByteLen]); err != nil {
		return nil, ErrInvalidOpening
	}
	p.s1.SetBytes(data[ByteLen : ByteLen+fr.Bytes])
	p.s2.SetBytes(data[ByteLen+fr.Bytes:])
	return &p, nil
}

// MarshalJSON encodes the proof as base64.
func (p KnowledgeProof) MarshalJSON() ([]byte, error) {
	return []byte(`"` + base64.StdEncoding.EncodeToString(p.Marshal()) + `"`), nil
}

// UnmarshalJSON decodes a base64-encoded proof.
func (p *KnowledgeProof) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ErrInvalidOpening
	}
	raw, err := base64.StdEncoding.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return ErrInvalidOpening
	}
	decoded, err := UnmarshalKnowledgeProof(raw)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}

func knowledgeChallenge(target, announcement *bn254.G1Affine, context []byte) fr.Element {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(knowledgeTag)
	hasher.Write(target.Marshal())
	hasher.Write(announcement.Marshal())
	hasher.Write(context)

	var c fr.Element
	c.SetBytes(hasher.Sum(nil))
	return c
}
