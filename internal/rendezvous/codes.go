package rendezvous

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet excludes characters that read ambiguously when a code is
// shared by voice or handwriting (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

var codeAlphabetLen = big.NewInt(int64(len(codeAlphabet)))

func newCode(length int) (string, error) {
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, codeAlphabetLen)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
