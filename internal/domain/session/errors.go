package session

import "github.com/erp/console/internal/domain/shared"

// Authentication domain errors
var (
	// ErrInvalidCredentials is returned when the identifier/secret pair is rejected
	ErrInvalidCredentials = shared.NewDomainError("INVALID_CREDENTIALS", "Invalid username or password")
	// ErrMfaInvalid is returned when a second-factor code is rejected or no challenge is outstanding
	ErrMfaInvalid = shared.NewDomainError("MFA_INVALID", "Invalid verification code")
	// ErrSessionExpired is returned when the session can no longer be refreshed
	ErrSessionExpired = shared.NewDomainError("SESSION_EXPIRED", "Session has expired, please log in again")
	// ErrInitializationTimeout is recorded when the boot-time readiness wait exceeds its bound
	ErrInitializationTimeout = shared.NewDomainError("INIT_TIMEOUT", "Session initialization timed out")
	// ErrNotAuthenticated is returned by operations that require an authenticated session
	ErrNotAuthenticated = shared.NewDomainError("NOT_AUTHENTICATED", "No authenticated session")
)
