package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// OTPLength is the number of digits in a verification code.
	OTPLength = 6
	// OTPExpiration is how long a verification code stays valid.
	OTPExpiration = 300 * time.Second
)

// GenerateOTP generates a fixed-length numeric verification code.
func GenerateOTP() string {
	max := big.NewInt(1)
	for i := 0; i < OTPLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand should not fail; fall back to a time-derived code
		n = big.NewInt(time.Now().UnixNano() % max.Int64())
	}
	return fmt.Sprintf("%0*d", OTPLength, n)
}
