// file: pkg/crypto/signer_test.go
package crypto

import (
	"bytes"
	"testing"
)

func TestSignAndRecover(t *testing.T) {
	s, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("transfer 10 to 0xabc nonce 7")
	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	addr, err := RecoverAddress(msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if addr != s.Address() {
		t.Fatalf("recovered %s, want %s", addr, s.Address())
	}
	if !VerifySignature(s.Address(), msg, sig) {
		t.Fatalf("VerifySignature rejected a valid signature")
	}
	if VerifySignature(s.Address(), []byte("tampered"), sig) {
		t.Fatalf("VerifySignature accepted a tampered message")
	}
}

func TestFromPrivateKeyHexRoundTrip(t *testing.T) {
	s1, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	s2, err := FromPrivateKeyHex("0x" + s1.PrivateKeyHex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s1.Address() != s2.Address() {
		t.Fatalf("round-tripped key derives %s, want %s", s2.Address(), s1.Address())
	}
}

func TestBLSSignVerify(t *testing.T) {
	signer := NewBLSSignerFromSeed([]byte("authority-0"))
	msg := []byte("block digest")
	sig := signer.Sign(msg)
	if !VerifyBLS(signer.Pubkey(), msg, sig) {
		t.Fatalf("VerifyBLS rejected a valid signature")
	}
	if VerifyBLS(signer.Pubkey(), []byte("other"), sig) {
		t.Fatalf("VerifyBLS accepted a wrong message")
	}

	pk, err := UnmarshalBLSPubKey(signer.PubkeyBytes())
	if err != nil {
		t.Fatalf("unmarshal pubkey: %v", err)
	}
	if !VerifyBLS(pk, msg, sig) {
		t.Fatalf("round-tripped pubkey rejects a valid signature")
	}

	again := NewBLSSignerFromSeed([]byte("authority-0"))
	if !bytes.Equal(again.PubkeyBytes(), signer.PubkeyBytes()) {
		t.Fatalf("seeded keygen is not deterministic")
	}
}
