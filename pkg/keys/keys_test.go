package keys

import (
	"errors"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSecretSymmetry(t *testing.T) {
	aliceSK := Generate()
	bobSK := Generate()
	alicePK, err := PublicKey(aliceSK)
	require.NoError(t, err)
	bobPK, err := PublicKey(bobSK)
	require.NoError(t, err)

	s1, err := DeriveSharedSecret(aliceSK, bobPK)
	require.NoError(t, err)
	s2, err := DeriveSharedSecret(bobSK, alicePK)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 32)
}

func TestSharedSecretDiffersPerPeer(t *testing.T) {
	aliceSK := Generate()
	bobPK, err := PublicKey(Generate())
	require.NoError(t, err)
	carolPK, err := PublicKey(Generate())
	require.NoError(t, err)

	s1, err := DeriveSharedSecret(aliceSK, bobPK)
	require.NoError(t, err)
	s2, err := DeriveSharedSecret(aliceSK, carolPK)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func TestDecodeAcceptsBech32AndHex(t *testing.T) {
	sk := Generate()
	nsec, err := nip19.EncodePrivateKey(sk)
	require.NoError(t, err)

	fromHex, err := Decode(sk)
	require.NoError(t, err)
	fromBech, err := Decode(nsec)
	require.NoError(t, err)
	assert.Equal(t, fromHex, fromBech)

	pk, err := PublicKey(sk)
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pk)
	require.NoError(t, err)
	pubFromBech, err := DecodePublic(npub)
	require.NoError(t, err)
	assert.Equal(t, pk, pubFromBech)
}

func TestInvalidKeys(t *testing.T) {
	for _, tc := range []struct {
		name string
		fn   func() error
	}{
		{"short private hex", func() error { _, err := Decode("abcd"); return err }},
		{"non-hex private", func() error { _, err := Decode(strings.Repeat("zz", 32)); return err }},
		{"zero scalar", func() error { _, err := Decode(strings.Repeat("00", 32)); return err }},
		{"npub passed as nsec", func() error {
			pk, _ := PublicKey(Generate())
			npub, _ := nip19.EncodePublicKey(pk)
			_, err := Decode(npub)
			return err
		}},
		{"short public hex", func() error { _, err := DecodePublic("abcd"); return err }},
		{"point not on curve", func() error {
			_, err := DecodePublic(strings.Repeat("ff", 32))
			return err
		}},
		{"derive with bad peer", func() error {
			_, err := DeriveSharedSecret(Generate(), "nonsense")
			return err
		}},
		{"derive with bad own key", func() error {
			pk, _ := PublicKey(Generate())
			_, err := DeriveSharedSecret("nonsense", pk)
			return err
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidKey), "want ErrInvalidKey, got %v", err)
		})
	}
}
