// Package auth binds a verified identity to an incoming connection.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Rejection codes sent to the client in connect_error.
const (
	CodeNoToken      = "NO_TOKEN"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeAuthFailed   = "AUTH_FAILED"
)

// RejectError is returned when a connection attempt must be refused.
type RejectError struct {
	Code    string
	Message string
	Err     error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *RejectError) Unwrap() error { return e.Err }

// Reject builds a RejectError.
func Reject(code, message string, err error) *RejectError {
	return &RejectError{Code: code, Message: message, Err: err}
}

// RejectCode returns the rejection code carried by err, or AUTH_FAILED.
func RejectCode(err error) string {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Code
	}
	return CodeAuthFailed
}

// Handshake is what a client presents when it connects.
type Handshake struct {
	// AuthToken comes from the data.token field of the connect frame.
	AuthToken string
	Header    http.Header
	Query     url.Values
}

// ExtractCredential picks the bearer credential from the handshake auth
// object, then the x-access-token header (or an Authorization bearer), then
// the token query parameter.
func ExtractCredential(h Handshake) string {
	if token := strings.TrimSpace(h.AuthToken); token != "" {
		return token
	}
	if h.Header != nil {
		if token := strings.TrimSpace(h.Header.Get("x-access-token")); token != "" {
			return token
		}
		if token := BearerToken(h.Header.Get("Authorization")); token != "" {
			return token
		}
	}
	if h.Query != nil {
		return strings.TrimSpace(h.Query.Get("token"))
	}
	return ""
}

// BearerToken extracts the token from an "Authorization: Bearer x" value.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Claims is what the identity collaborator returns for a valid credential.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Verifier checks a credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// Identity is the verified user bound to a connection.
type Identity struct {
	UserID int
}

// Gate authenticates handshakes with a bounded verification time.
type Gate struct {
	verifier Verifier
	timeout  time.Duration
}

// NewGate constructs a Gate. A zero timeout means no bound beyond ctx.
func NewGate(verifier Verifier, timeout time.Duration) *Gate {
	return &Gate{verifier: verifier, timeout: timeout}
}

// Authenticate verifies the handshake credential and resolves the user id.
func (g *Gate) Authenticate(ctx context.Context, h Handshake) (Identity, error) {
	token := ExtractCredential(h)
	if token == "" {
		return Identity{}, Reject(CodeNoToken, "missing credential", nil)
	}
	userID, err := g.VerifyToken(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID}, nil
}

// VerifyToken verifies a bare token. It is shared with the REST middleware.
func (g *Gate) VerifyToken(ctx context.Context, token string) (int, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type result struct {
		claims Claims
		err    error
	}
	done := make(chan result, 1)
	go func() {
		claims, err := g.verifier.Verify(ctx, token)
		done <- result{claims: claims, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return 0, Reject(CodeAuthFailed, "verification timed out", ctx.Err())
	}
	if res.err != nil {
		return 0, Reject(CodeAuthFailed, "verification failed", res.err)
	}

	subject := strings.TrimSpace(res.claims.Subject)
	if subject == "" {
		return 0, Reject(CodeInvalidToken, "missing subject claim", nil)
	}
	userID, err := strconv.Atoi(subject)
	if err != nil || userID <= 0 {
		return 0, Reject(CodeInvalidToken, "subject is not a user id", err)
	}
	return userID, nil
}
