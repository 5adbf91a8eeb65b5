package cipher

import (
	"bytes"
	"crypto/aes"
	cip "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// EncryptV1 encrypts with the legacy AES-256-CBC encoding under a fresh
// random IV. Wire format: base64(ciphertext) + "?iv=" + base64(iv).
func EncryptV1(plaintext string, secret []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	return EncryptV1WithIV(plaintext, secret, iv)
}

// EncryptV1WithIV encrypts under a caller-chosen IV. The mail bridge
// depends on this: an email subject and body encrypted under the same
// secret and IV are reproducibly linked to one DM event.
func EncryptV1WithIV(plaintext string, secret, iv []byte) (string, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", fmt.Errorf("invalid secret: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("iv must be %d bytes", aes.BlockSize)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cip.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return base64.StdEncoding.EncodeToString(ct) +
		"?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptV1 decrypts the legacy "?iv=" encoding.
func DecryptV1(envelope string, secret []byte) (string, error) {
	parts := strings.Split(envelope, "?iv=")
	if len(parts) != 2 {
		return "", decryptErr("missing ?iv= separator")
	}
	ct, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", decryptErr("ciphertext is not base64")
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", decryptErr("iv is not base64")
	}
	if len(iv) != aes.BlockSize {
		return "", decryptErr("iv length %d", len(iv))
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", decryptErr("ciphertext length %d", len(ct))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", decryptErr("invalid secret")
	}
	plain := make([]byte, len(ct))
	cip.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil || !utf8.Valid(plain) {
		return "", decryptErr("wrong secret or corrupted ciphertext")
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, decryptErr("bad block length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, decryptErr("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, decryptErr("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
