package auth

// UserClaims represents the JWT claims for a user
type UserClaims struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email,omitempty"`
	SubscriptionTier string `json:"tier"`
	IsAdmin          bool   `json:"is_admin,omitempty"`
}

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHENTICATED", Message: "authentication required"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrRateLimited  = AuthError{Code: "RATE_LIMITED", Message: "too many requests, please try again later"}
)
