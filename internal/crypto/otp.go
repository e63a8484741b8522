package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidOTP = errors.New("invalid OTP")
	ErrEmptyOTP   = errors.New("empty OTP")
)

// otpSpace is the number of six-digit codes (100000..999999).
var otpSpace = big.NewInt(900000)

// GenerateOTP returns a random six-digit one-time code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// HashOTP hashes a one-time code for storage.
func HashOTP(otp string) (string, error) {
	if otp == "" {
		return "", ErrEmptyOTP
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(otp), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	return string(hash), nil
}

// VerifyOTP checks a submitted code against a stored hash.
func VerifyOTP(hash, otp string) error {
	if hash == "" || otp == "" {
		return ErrInvalidOTP
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(otp)); err != nil {
		return ErrInvalidOTP
	}
	return nil
}
