package rand

import (
	"crypto/rand"

	"github.com/sirupsen/logrus"
)

const (
	allLetters   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	smallLetters = "abcdefghijklmnopqrstuvwxyz0123456789"

	subdomainSuffixLength = 8

	// SecretLength is the length of generated tunnel secrets.
	SecretLength = 32
)

// Subdomain returns a candidate subdomain label: the prefix followed by a
// dash and 8 random lowercase alphanumeric characters. It makes no
// uniqueness promise; callers re-invoke it on collision.
func Subdomain(prefix string) string {
	return prefix + "-" + randomString(smallLetters, subdomainSuffixLength)
}

// Secret returns a mixed-case alphanumeric string of length n, suitable
// for tunnel secrets.
func Secret(n int) string {
	return randomString(allLetters, n)
}

// randomString draws characters uniformly from the alphabet using
// crypto/rand. Bytes outside the masked range are rejected rather than
// folded, to avoid biasing the distribution.
func randomString(alphabet string, n int) string {
	if len(alphabet) == 0 || len(alphabet) > 256 {
		panic("alphabet length must be between 1 and 256")
	}

	var mask byte
	for bits := len(alphabet) - 1; bits != 0; bits >>= 1 {
		mask = mask<<1 | 1
	}

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			logrus.Fatalf("unable to read random bytes: %v", err)
		}
		for _, b := range buf {
			if idx := int(b & mask); idx < len(alphabet) {
				out = append(out, alphabet[idx])
				if len(out) == n {
					break
				}
			}
		}
	}

	return string(out)
}
