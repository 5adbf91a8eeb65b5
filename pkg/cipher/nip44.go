package cipher

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"io"
	"math"

	sha256 "github.com/minio/sha256-simd"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const v2Version = 2

var (
	minPlaintextSize = 0x0001 // 1b msg => padded to 32b
	maxPlaintextSize = 0xffff // 65535 (64kb-1) => padded to 64kb
)

// EncryptV2 encrypts with the versioned authenticated encoding: a
// conversation key expanded per message into a chacha20 key, nonce and
// hmac key, with length-prefixed padding. Output is a single base64
// blob starting with the version byte.
func EncryptV2(plaintext string, secret []byte) (string, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return encryptV2(plaintext, secret, salt)
}

func encryptV2(plaintext string, secret, salt []byte) (string, error) {
	enc, nonce, auth, err := messageKeys(conversationKey(secret), salt)
	if err != nil {
		return "", err
	}
	padded, err := pad(plaintext)
	if err != nil {
		return "", err
	}
	ciphertext, err := chachaStream(enc, nonce, padded)
	if err != nil {
		return "", err
	}
	mac, err := sha256Hmac(auth, ciphertext, salt)
	if err != nil {
		return "", err
	}
	concat := make([]byte, 0, 1+len(salt)+len(ciphertext)+len(mac))
	concat = append(concat, byte(v2Version))
	concat = append(concat, salt...)
	concat = append(concat, ciphertext...)
	concat = append(concat, mac...)
	return base64.StdEncoding.EncodeToString(concat), nil
}

// DecryptV2 decrypts the versioned encoding, authenticating the payload
// before returning the plaintext.
func DecryptV2(envelope string, secret []byte) (string, error) {
	cLen := len(envelope)
	if cLen < 132 || cLen > 87472 {
		return "", decryptErr("invalid payload length: %d", cLen)
	}
	if envelope[0:1] == "#" {
		return "", decryptErr("unknown version")
	}
	decoded, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", decryptErr("invalid base64")
	}
	if version := int(decoded[0]); version != v2Version {
		return "", decryptErr("unknown version %d", version)
	}
	dLen := len(decoded)
	if dLen < 99 || dLen > 65603 {
		return "", decryptErr("invalid data length: %d", dLen)
	}
	salt, ciphertext, mac := decoded[1:33], decoded[33:dLen-32], decoded[dLen-32:]
	enc, nonce, auth, err := messageKeys(conversationKey(secret), salt)
	if err != nil {
		return "", err
	}
	expected, err := sha256Hmac(auth, ciphertext, salt)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac, expected) {
		return "", decryptErr("invalid hmac")
	}
	padded, err := chachaStream(enc, nonce, ciphertext)
	if err != nil {
		return "", err
	}
	unpaddedLen := binary.BigEndian.Uint16(padded[0:2])
	if unpaddedLen < uint16(minPlaintextSize) ||
		unpaddedLen > uint16(maxPlaintextSize) ||
		len(padded) != 2+calcPadding(int(unpaddedLen)) {
		return "", decryptErr("invalid padding")
	}
	unpadded := padded[2 : unpaddedLen+2]
	if len(unpadded) == 0 || len(unpadded) != int(unpaddedLen) {
		return "", decryptErr("invalid padding")
	}
	return string(unpadded), nil
}

// conversationKey extracts the per-pair v2 key from the raw ECDH X
// coordinate. Deterministic, so both parties derive the same key.
func conversationKey(secret []byte) []byte {
	return hkdf.Extract(sha256.New, secret, []byte("nip44-v2"))
}

func chachaStream(key, nonce, message []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, decryptErr("%s", err)
	}
	dst := make([]byte, len(message))
	c.XORKeyStream(dst, message)
	return dst, nil
}

func sha256Hmac(key, ciphertext, aad []byte) ([]byte, error) {
	if len(aad) != 32 {
		return nil, decryptErr("aad data must be 32 bytes")
	}
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(ciphertext)
	return h.Sum(nil), nil
}

func messageKeys(conversationKey, salt []byte) (enc, nonce, auth []byte, err error) {
	if len(conversationKey) != 32 {
		return nil, nil, nil, decryptErr("conversation key must be 32 bytes")
	}
	if len(salt) != 32 {
		return nil, nil, nil, decryptErr("salt must be 32 bytes")
	}
	enc = make([]byte, 32)
	nonce = make([]byte, 12)
	auth = make([]byte, 32)
	r := hkdf.Expand(sha256.New, conversationKey, salt)
	for _, buf := range [][]byte{enc, nonce, auth} {
		if _, err = io.ReadFull(r, buf); err != nil {
			return nil, nil, nil, err
		}
	}
	return enc, nonce, auth, nil
}

func pad(s string) ([]byte, error) {
	sb := []byte(s)
	sbLen := len(sb)
	if sbLen < 1 || sbLen > maxPlaintextSize {
		return nil, decryptErr("plaintext should be between 1b and 64kB")
	}
	padding := calcPadding(sbLen)
	result := make([]byte, 2, 2+padding)
	binary.BigEndian.PutUint16(result, uint16(sbLen))
	result = append(result, sb...)
	result = append(result, make([]byte, padding-sbLen)...)
	return result, nil
}

func calcPadding(sLen int) int {
	if sLen <= 32 {
		return 32
	}
	nextPower := 1 << int(math.Floor(math.Log2(float64(sLen-1)))+1)
	chunk := int(math.Max(32, float64(nextPower/8)))
	return chunk * int(math.Floor(float64((sLen-1)/chunk))+1)
}
