// Package otp issues and verifies the 4-digit boarding code a rider reads to
// the driver before the trip starts.
package otp

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

const Expiry = 5 * time.Minute

// Generate returns a fresh 4-digit code.
func Generate() string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		// crypto/rand only fails when the platform source is broken
		panic(err)
	}
	code := 1000 + n.Int64()
	return big.NewInt(code).String()
}

// Attach puts a code on the ride if none exists yet and returns it.
// Re-arming an already armed ride is a no-op so retries are safe.
func Attach(ride *models.Ride, now time.Time) string {
	if ride.OTPCode != "" {
		return ride.OTPCode
	}
	exp := now.Add(Expiry)
	ride.OTPCode = Generate()
	ride.OTPExpiresAt = &exp
	ride.OTPVerifiedAt = nil
	return ride.OTPCode
}

// VerifyAndConsume checks the code and burns it. A consumed or expired code
// surfaces a typed OtpError; the ride's status is never touched here.
func VerifyAndConsume(ride *models.Ride, code string, now time.Time) error {
	if ride.OTPCode == "" || ride.OTPVerifiedAt != nil {
		return &models.OtpError{Reason: models.OtpAlreadyConsumed}
	}
	if ride.OTPExpiresAt == nil || now.After(*ride.OTPExpiresAt) {
		return &models.OtpError{Reason: models.OtpExpired}
	}
	if ride.OTPCode != code {
		return &models.OtpError{Reason: models.OtpMismatch}
	}
	verified := now
	ride.OTPVerifiedAt = &verified
	ride.OTPCode = ""
	ride.OTPExpiresAt = nil
	return nil
}
