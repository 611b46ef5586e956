// file: pkg/crypto/bls.go
package crypto

import (
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
	"golang.org/x/crypto/sha3"
)

// Authority protocol keys: BLS over G1 pubkeys / G2 signatures. Authors
// sign block digests; verification happens at the network boundary before
// blocks reach the consensus core.

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewBLSSigner derives a key pair from 32+ bytes of key material.
func NewBLSSigner(ikm []byte) (*BLSSigner, error) {
	if len(ikm) < 32 {
		return nil, fmt.Errorf("bls key material must be >= 32 bytes, got %d", len(ikm))
	}
	sk, err := bls.KeyGen[scheme](ikm, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls keygen: %w", err)
	}
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}, nil
}

// NewBLSSignerFromSeed stretches an arbitrary seed into key material.
// Deterministic; used by tests and by keygen with a recorded seed.
func NewBLSSignerFromSeed(seed []byte) *BLSSigner {
	ikm := sha3.Sum256(seed)
	s, err := NewBLSSigner(ikm[:])
	if err != nil {
		panic(err) // 32-byte ikm cannot fail keygen
	}
	return s
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

// PubkeyBytes returns the marshalled public key for committee files.
func (s *BLSSigner) PubkeyBytes() []byte {
	raw, err := s.pk.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return raw
}

func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

// UnmarshalBLSPubKey parses a marshalled public key from a committee file.
func UnmarshalBLSPubKey(raw []byte) (*BLSPubKey, error) {
	pk := new(BLSPubKey)
	if err := pk.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal bls pubkey: %w", err)
	}
	return pk, nil
}

func VerifyBLS(pk *BLSPubKey, msg, sig []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sig))
}
