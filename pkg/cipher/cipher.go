// Package cipher implements the two interoperable direct message
// encodings: the legacy AES-256-CBC "?iv=" format (v1, NIP-04) and the
// versioned authenticated format (v2, NIP-44). Both are keyed from the
// ECDH shared secret produced by pkg/keys.
package cipher

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrDecrypt marks a malformed ciphertext or a secret that does not
// authenticate it. Surfaced per message; batch operations continue.
var ErrDecrypt = errors.New("decryption failed")

// Version labels returned by DetectVersion.
const (
	FormatV1      = "nip04"
	FormatV2      = "nip44"
	FormatUnknown = "unknown"
)

// Encrypt encrypts plaintext with the current default encoding (v2).
func Encrypt(plaintext string, secret []byte) (string, error) {
	return EncryptV2(plaintext, secret)
}

// Decrypt auto-detects the envelope version by payload shape and
// decrypts it. The "?iv=" marker selects v1, anything else is tried as
// v2.
func Decrypt(envelope string, secret []byte) (string, error) {
	if strings.Contains(envelope, "?iv=") {
		return DecryptV1(envelope, secret)
	}
	return DecryptV2(envelope, secret)
}

// DetectVersion classifies an envelope by shape without decrypting it.
func DetectVersion(envelope string) string {
	envelope = strings.TrimSpace(envelope)
	if envelope == "" {
		return FormatUnknown
	}
	if pos := strings.Index(envelope, "?iv="); pos >= 0 {
		if isBase64(envelope[:pos]) && isBase64(envelope[pos+4:]) {
			return FormatV1
		}
		return FormatUnknown
	}
	if !isBase64(envelope) {
		return FormatUnknown
	}
	decoded, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil || len(decoded) == 0 {
		return FormatUnknown
	}
	if decoded[0] == 1 || decoded[0] == 2 {
		return FormatV2
	}
	return FormatUnknown
}

func isBase64(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=':
		default:
			return false
		}
	}
	return len(s) > 0
}

func decryptErr(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDecrypt, fmt.Sprintf(format, a...))
}
