package auth

import (
	"context"
	"net/http"
	"strings"

	"trading-journal/internal/billing"

	"github.com/gin-gonic/gin"
)

const (
	// Context keys for user data
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "user_email"
	ContextKeyTier   = "user_tier"
	ContextKeyClaims = "user_claims"
)

type claimsKey struct{}

// NewContext returns a context carrying claims.
func NewContext(ctx context.Context, claims *UserClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims stored by the middleware, or nil.
func FromContext(ctx context.Context) *UserClaims {
	claims, _ := ctx.Value(claimsKey{}).(*UserClaims)
	return claims
}

// TierFromContext returns the caller's subscription tier, free when unknown.
// It is the default-allotment lookup handed to the discipline service.
func TierFromContext(ctx context.Context) billing.SubscriptionTier {
	if claims := FromContext(ctx); claims != nil {
		return billing.ParseTier(claims.SubscriptionTier)
	}
	return billing.TierFree
}

// DefaultMaxFromContext returns the tier's starting allotment.
func DefaultMaxFromContext(ctx context.Context, _ string) int {
	return billing.GetTierLimits(TierFromContext(ctx)).DefaultDailyTrades
}

// tokenFromRequest reads a Bearer header, or the token query parameter on
// websocket upgrades where browsers cannot set headers.
func tokenFromRequest(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if c.IsWebsocket() {
			if token := c.Query("token"); token != "" {
				return token, ""
			}
		}
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", "invalid authorization header format"
	}
	return parts[1], ""
}

// Middleware creates a JWT authentication middleware
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, problem := tokenFromRequest(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": problem,
			})
			return
		}

		claims, err := jwtManager.ValidateAccessToken(tokenString)
		if err != nil {
			authErr, ok := err.(AuthError)
			if !ok {
				authErr = ErrInvalidToken
			}

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// DevMiddleware authenticates every request as one fixed user. It is wired
// only when auth is disabled in configuration.
func DevMiddleware(userID string) gin.HandlerFunc {
	claims := &UserClaims{UserID: userID, SubscriptionTier: string(billing.TierWhale)}
	return func(c *gin.Context) {
		setClaims(c, claims)
		c.Next()
	}
}

func setClaims(c *gin.Context, claims *UserClaims) {
	c.Set(ContextKeyUserID, claims.UserID)
	c.Set(ContextKeyEmail, claims.Email)
	c.Set(ContextKeyTier, claims.SubscriptionTier)
	c.Set(ContextKeyClaims, claims)
	c.Request = c.Request.WithContext(NewContext(c.Request.Context(), claims))
}

// GetUserID extracts the user ID from the Gin context
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get(ContextKeyUserID); exists {
		return userID.(string)
	}
	return ""
}

// GetUserClaims extracts the full user claims from the Gin context
func GetUserClaims(c *gin.Context) *UserClaims {
	if claims, exists := c.Get(ContextKeyClaims); exists {
		return claims.(*UserClaims)
	}
	return nil
}

// GetUserTier extracts the user tier from the Gin context
func GetUserTier(c *gin.Context) billing.SubscriptionTier {
	if tier, exists := c.Get(ContextKeyTier); exists {
		return billing.ParseTier(tier.(string))
	}
	return billing.TierFree
}
