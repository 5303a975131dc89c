package verification

import "errors"

// Sentinel errors for the verification service layer.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrResultNotFound = errors.New("verification result not found")
	ErrNoEmails       = errors.New("job has no emails")
	ErrTooManyEmails  = errors.New("job exceeds the email limit")
)
