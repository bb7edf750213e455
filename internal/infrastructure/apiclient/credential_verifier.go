package apiclient

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/console/internal/domain/session"
)

// Wire shapes for the backend auth endpoints.

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	TenantCode string `json:"tenant_code,omitempty"`
}

type tokenPayload struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	AccessTokenExpiresAt  int64  `json:"access_token_expires_at"`
	RefreshTokenExpiresAt int64  `json:"refresh_token_expires_at"`
	TokenType             string `json:"token_type"`
}

type userPayload struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type challengePayload struct {
	ChallengeID string `json:"challenge_id"`
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	DisplayName string `json:"display_name"`
}

type loginResponse struct {
	RequiresMfa bool              `json:"requires_mfa"`
	Challenge   *challengePayload `json:"mfa_challenge,omitempty"`
	Token       *tokenPayload     `json:"token,omitempty"`
	User        *userPayload      `json:"user,omitempty"`
}

type verifyMfaRequest struct {
	ChallengeID  string `json:"challenge_id"`
	Code         string `json:"code"`
	IsBackupCode bool   `json:"is_backup_code,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// accessClaims is the subset of access-token claims the console reads.
// The backend signs and verifies tokens; the console only parses its own
// token's payload, so the signature is not checked here.
type accessClaims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
}

// Verify interface compliance at compile time
var _ session.CredentialVerifier = (*Client)(nil)

// Login verifies credentials against the backend. A response carrying an MFA
// challenge installs no tokens; the session stays unusable until VerifyMfa.
func (c *Client) Login(ctx context.Context, input session.LoginInput) (*session.LoginOutcome, error) {
	req := loginRequest{
		Username:   input.Identifier,
		Password:   input.Secret,
		TenantCode: input.TenantHint,
	}

	var resp loginResponse
	if err := c.do(ctx, "POST", "/api/v1/auth/login", req, &resp); err != nil {
		return nil, mapAuthError(err)
	}

	if resp.RequiresMfa {
		if resp.Challenge == nil {
			return nil, fmt.Errorf("login response requires mfa but carries no challenge")
		}
		challenge, err := resp.Challenge.toDomain()
		if err != nil {
			return nil, err
		}
		c.logger.Info("Login requires second factor",
			zap.String("challenge_id", challenge.ChallengeID))
		return &session.LoginOutcome{RequiresMfa: true, Challenge: challenge}, nil
	}

	profile, err := c.adoptAuthPayload(ctx, resp.Token, resp.User)
	if err != nil {
		return nil, err
	}
	return &session.LoginOutcome{Profile: profile}, nil
}

// VerifyMfa submits a second-factor code for an outstanding challenge
func (c *Client) VerifyMfa(ctx context.Context, input session.VerifyMfaInput) (*session.Profile, error) {
	req := verifyMfaRequest{
		ChallengeID:  input.ChallengeID,
		Code:         input.Code,
		IsBackupCode: input.IsBackupCode,
	}

	var resp loginResponse
	if err := c.do(ctx, "POST", "/api/v1/auth/mfa/verify", req, &resp); err != nil {
		return nil, mapAuthError(err)
	}
	return c.adoptAuthPayload(ctx, resp.Token, resp.User)
}

// Refresh rotates the token pair and reloads the profile. Without a refresh
// token there is nothing to extend and the session is expired.
func (c *Client) Refresh(ctx context.Context) (*session.Profile, error) {
	refresh := c.currentRefreshToken()
	if refresh == "" {
		return nil, session.ErrSessionExpired
	}

	var tokens tokenPayload
	if err := c.do(ctx, "POST", "/api/v1/auth/refresh", refreshRequest{RefreshToken: refresh}, &tokens); err != nil {
		c.clearTokens(ctx)
		return nil, mapAuthError(err)
	}
	c.setTokens(ctx, tokens.AccessToken, tokens.RefreshToken)

	var user userPayload
	if err := c.do(ctx, "GET", "/api/v1/auth/me", nil, &user); err != nil {
		return nil, mapAuthError(err)
	}
	return c.buildProfile(&user)
}

// Logout invalidates the session server-side and drops local tokens.
// The token drop happens even when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, "POST", "/api/v1/auth/logout", nil, nil)
	c.clearTokens(ctx)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	return nil
}

// adoptAuthPayload installs the token pair and converts the user payload
func (c *Client) adoptAuthPayload(ctx context.Context, tokens *tokenPayload, user *userPayload) (*session.Profile, error) {
	if tokens == nil || user == nil {
		return nil, fmt.Errorf("auth response missing token or user payload")
	}
	c.setTokens(ctx, tokens.AccessToken, tokens.RefreshToken)
	return c.buildProfile(user)
}

// buildProfile converts the wire user into a Profile, filling permissions from
// the access-token claims when the payload omits them
func (c *Client) buildProfile(user *userPayload) (*session.Profile, error) {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id in auth response: %w", err)
	}
	tenantID, err := uuid.Parse(user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id in auth response: %w", err)
	}

	profile := &session.Profile{
		UserID:      userID,
		TenantID:    tenantID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Role:        user.Role,
		Permissions: user.Permissions,
	}

	if len(profile.Permissions) == 0 {
		if claims, err := c.parseAccessClaims(); err == nil {
			profile.Permissions = claims.Permissions
		}
	}
	return profile, nil
}

// parseAccessClaims decodes the current access token's claims without
// verifying the signature
func (c *Client) parseAccessClaims() (*accessClaims, error) {
	token := c.AccessToken()
	if token == "" {
		return nil, fmt.Errorf("no access token")
	}

	claims := &accessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

func (p *challengePayload) toDomain() (*session.MfaChallenge, error) {
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id in mfa challenge: %w", err)
	}
	tenantID, err := uuid.Parse(p.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id in mfa challenge: %w", err)
	}
	return &session.MfaChallenge{
		ChallengeID: p.ChallengeID,
		UserID:      userID,
		TenantID:    tenantID,
		DisplayName: p.DisplayName,
	}, nil
}
