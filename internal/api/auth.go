package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"marketplace/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const identityKey = "identity"

// Claims are the JWT claims issued to marketplace users
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name"`
	IsAdmin bool   `json:"admin"`
}

// TokenVerifier validates HS256 bearer tokens
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses tokenStr and returns the identity it carries
func (v *TokenVerifier) Verify(tokenStr string) (models.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Identity{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return models.Identity{}, errors.New("invalid token")
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return models.Identity{}, errors.New("token subject must be a user id")
	}
	return models.Identity{ID: id, Name: claims.Name, IsAdmin: claims.IsAdmin}, nil
}

// AuthMiddleware rejects requests without a valid bearer token and stores the
// caller's identity on the gin context.
func AuthMiddleware(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "Not authorized, no token", nil)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWithError(c, http.StatusUnauthorized, "Invalid Authorization header format", nil)
			return
		}

		identity, err := verifier.Verify(parts[1])
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "Not authorized, token failed", err)
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func currentIdentity(c *gin.Context) models.Identity {
	return c.MustGet(identityKey).(models.Identity)
}
