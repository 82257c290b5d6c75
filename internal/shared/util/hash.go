package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// SHA256Hex returns the lowercase hex SHA-256 of the given bytes.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SHA256Reader streams the reader through SHA-256 and returns the lowercase
// hex digest plus the number of bytes consumed.
func SHA256Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
