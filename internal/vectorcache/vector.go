package vectorcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
)

var ErrVectorLengthMismatch = errors.New("vector length mismatch")

// Cosine returns the cosine similarity of a and b, zero when either is all zeros.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrVectorLengthMismatch
	}
	var dot, na, nb float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	den := math.Sqrt(na) * math.Sqrt(nb)
	if den == 0 {
		return 0, nil
	}
	return dot / den, nil
}

// TextHash is the content key of an embedded text.
func TextHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
