package booking

import (
	"crypto/rand"
	"math/big"
)

// numberAlphabet leaves out 0/O and 1/I so numbers read back over the phone.
const numberAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewNumber returns a fresh booking number such as "BK-7Q2M9XK4PA".
func NewNumber() string {
	const n = 10
	buf := make([]byte, 0, 3+n)
	buf = append(buf, "BK-"...)
	limit := big.NewInt(int64(len(numberAlphabet)))
	for i := 0; i < n; i++ {
		k, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic("booking: crypto/rand failed: " + err.Error())
		}
		buf = append(buf, numberAlphabet[k.Int64()])
	}
	return string(buf)
}
