// Package keys normalizes nostr key material and derives the symmetric
// shared secret used by the message cipher. Keys are accepted as 64
// character hex or bech32 (nsec/npub) and handled internally as hex.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrInvalidKey marks malformed key material. Callers reject immediately,
// no retry.
var ErrInvalidKey = errors.New("invalid key")

// Generate returns a fresh private key as hex.
func Generate() string {
	return nostr.GeneratePrivateKey()
}

// Decode normalizes a private key given as nsec or hex into hex and
// validates that it is a scalar in [1, N-1].
func Decode(sk string) (string, error) {
	if prefix, s, err := nip19.Decode(sk); err == nil {
		if prefix != "nsec" {
			return "", fmt.Errorf("%w: expected nsec, got %s", ErrInvalidKey, prefix)
		}
		sk = s.(string)
	}
	b, err := hex.DecodeString(sk)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("%w: private key must be 32 bytes hex or nsec", ErrInvalidKey)
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return "", fmt.Errorf("%w: private scalar out of range", ErrInvalidKey)
	}
	return sk, nil
}

// DecodePublic normalizes a public key given as npub or hex into hex and
// validates that it is a point on the curve.
func DecodePublic(pk string) (string, error) {
	if prefix, s, err := nip19.Decode(pk); err == nil {
		if prefix != "npub" {
			return "", fmt.Errorf("%w: expected npub, got %s", ErrInvalidKey, prefix)
		}
		pk = s.(string)
	}
	if _, err := parsePub(pk); err != nil {
		return "", err
	}
	return pk, nil
}

// PublicKey derives the hex public key for a hex private key.
func PublicKey(sk string) (string, error) {
	pub, err := nostr.GetPublicKey(sk)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return pub, nil
}

// Npub encodes a hex public key as bech32.
func Npub(pk string) (string, error) { return nip19.EncodePublicKey(pk) }

// Nsec encodes a hex private key as bech32.
func Nsec(sk string) (string, error) { return nip19.EncodePrivateKey(sk) }

// DeriveSharedSecret performs ECDH on secp256k1 between our private key
// and the peer's x-only public key and returns the 32 byte X coordinate
// of the resulting point. Both sides of a conversation compute the same
// value:
//
//	DeriveSharedSecret(a.sk, b.pk) == DeriveSharedSecret(b.sk, a.pk)
func DeriveSharedSecret(sk, peerPub string) ([]byte, error) {
	skBytes, err := hex.DecodeString(sk)
	if err != nil || len(skBytes) != 32 {
		return nil, fmt.Errorf("%w: private key must be 32 bytes hex", ErrInvalidKey)
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(skBytes); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: private scalar out of range", ErrInvalidKey)
	}
	priv := secp256k1.NewPrivateKey(&scalar)
	pub, err := parsePub(peerPub)
	if err != nil {
		return nil, err
	}
	return secp256k1.GenerateSharedSecret(priv, pub), nil
}

// parsePub lifts a 32 byte x-only hex key to a full curve point. Nostr
// keys are the X coordinate of an even-Y point, so the 02 prefix
// reconstructs the compressed encoding.
func parsePub(pk string) (*secp256k1.PublicKey, error) {
	if len(pk) != 64 {
		return nil, fmt.Errorf("%w: public key must be 32 bytes hex", ErrInvalidKey)
	}
	b, err := hex.DecodeString("02" + pk)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex", ErrInvalidKey)
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return pub, nil
}
