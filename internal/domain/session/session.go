// Package session defines the authentication session model shared by the
// console core: the session state machine, the pending MFA challenge, and the
// credential-verification port implemented by the backend API client.
package session

import (
	"context"

	"github.com/google/uuid"
)

// Status represents the authentication state of the console session
type Status string

const (
	// StatusUnauthenticated means no valid session exists
	StatusUnauthenticated Status = "unauthenticated"
	// StatusInitializing means the boot-time session restore is in progress
	StatusInitializing Status = "initializing"
	// StatusAuthenticating means a login call is in flight
	StatusAuthenticating Status = "authenticating"
	// StatusMfaPending means the password was accepted and a second factor is outstanding
	StatusMfaPending Status = "mfa_pending"
	// StatusAuthenticated means a full profile is loaded and the session is usable
	StatusAuthenticated Status = "authenticated"
	// StatusExpired means a refresh failed; the session is being torn down
	StatusExpired Status = "expired"
)

// Profile holds the authenticated user's identity as reported by the backend.
// A minimal subset of it is persisted to durable storage so the console can
// attempt a silent restore on the next start.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions,omitempty"`
}

// MfaChallenge identifies a pending second-factor verification step.
// It is created by a login response that requires MFA and consumed only by a
// successful verification or an explicit cancel.
type MfaChallenge struct {
	ChallengeID string    `json:"challenge_id"`
	UserID      uuid.UUID `json:"user_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	DisplayName string    `json:"display_name"`
}

// Session is a snapshot of the authentication state machine.
// It is a value copy; mutations go through the session manager only.
type Session struct {
	Status           Status
	Profile          *Profile
	PendingChallenge *MfaChallenge
	Initialized      bool
}

// IsAuthenticated reports whether the session carries a usable profile
func (s Session) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated && s.Profile != nil
}

// LoginInput carries the credentials for a login attempt
type LoginInput struct {
	Identifier string // username or email
	Secret     string
	TenantHint string // optional tenant code for multi-tenant logins
}

// LoginOutcome is the result of a credential verification call.
// Exactly one of Profile or Challenge is set on success.
type LoginOutcome struct {
	RequiresMfa bool
	Profile     *Profile
	Challenge   *MfaChallenge
}

// VerifyMfaInput carries a second-factor verification attempt
type VerifyMfaInput struct {
	ChallengeID  string
	Code         string
	IsBackupCode bool
}

// CredentialVerifier is the port to the backend's authentication endpoints.
// The console core never sees raw secrets beyond passing them through.
type CredentialVerifier interface {
	// Login verifies credentials. Returns ErrInvalidCredentials on rejection.
	Login(ctx context.Context, input LoginInput) (*LoginOutcome, error)

	// VerifyMfa validates a second factor against an outstanding challenge.
	// Returns ErrMfaInvalid when the code is rejected; the challenge stays
	// valid server-side for a bounded number of retries.
	VerifyMfa(ctx context.Context, input VerifyMfaInput) (*Profile, error)

	// Refresh extends the current session and returns the refreshed profile.
	// Returns ErrSessionExpired when the session can no longer be extended.
	Refresh(ctx context.Context) (*Profile, error)

	// Logout invalidates the session server-side. Best effort; local state
	// is cleared regardless of the outcome.
	Logout(ctx context.Context) error
}
