// Package auth guards operator routes with HS256 JWTs.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ortelius/cvefeed-backend/model"
)

// RoleAdmin may trigger ingestion cycles.
const RoleAdmin = "admin"

const (
	issuer     = "cvefeed-backend"
	cookieName = "auth_token"
)

// ErrNoSecret is returned by NewVerifier for an empty signing secret.
var ErrNoSecret = errors.New("jwt secret is empty")

// Claims represents JWT claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier issues and validates tokens signed with one shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Issue signs a token for subject with role, valid for ttl.
func (v *Verifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Validate parses tokenString and returns its claims.
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func tokenFrom(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return c.Cookies(cookieName)
}

func deny(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(model.ErrorResponse{Errors: []string{msg}})
}

// RequireAuth validates the bearer token, or the auth_token cookie, and
// stores the subject and role in the request locals.
func RequireAuth(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFrom(c)
		if token == "" {
			return deny(c, fiber.StatusUnauthorized, "Authentication required")
		}

		claims, err := v.Validate(token)
		if err != nil {
			return deny(c, fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals("username", claims.Subject)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

// RequireRole checks that RequireAuth stored one of allowedRoles.
func RequireRole(allowedRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userRole, ok := c.Locals("role").(string)
		if !ok {
			return deny(c, fiber.StatusUnauthorized, "Authentication required")
		}
		for _, role := range allowedRoles {
			if userRole == role {
				return c.Next()
			}
		}
		return deny(c, fiber.StatusForbidden, "Insufficient permissions")
	}
}
