package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// RandomID is a 128-bit identifier rendered as unpadded base64url.
type RandomID [16]byte

// NewRandomID reads 16 bytes from crypto/rand.
func NewRandomID() (RandomID, error) {
	var id RandomID
	_, err := rand.Read(id[:])
	return id, err
}

func (id RandomID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseRandomID decodes the String form back into a RandomID.
func ParseRandomID(s string) (RandomID, error) {
	var id RandomID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid random id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewSecret returns n bytes from crypto/rand.
func NewSecret(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("invalid secret size")
	}
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewNumericCode returns a uniformly distributed decimal code of the given
// length, leading zeros included.
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
