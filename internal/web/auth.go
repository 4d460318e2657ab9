package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/johnywakim02/remote-stream/internal/config"
)

const (
	tokenIssuer    = "remote-stream"
	authRealm      = `Basic realm="Login Required"`
	subjectContext = "auth_subject"
)

// ErrInvalidToken is returned for tokens that fail validation
var ErrInvalidToken = errors.New("invalid token")

// StreamClaims are the claims of a viewer token
type StreamClaims struct {
	jwt.RegisteredClaims
}

// Authenticator checks viewer credentials. It accepts HTTP Basic with the
// configured username and password, or an HS256 token it issued itself.
type Authenticator struct {
	username string
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthenticator creates an authenticator. Without a configured secret a
// random one is generated, so tokens do not survive a restart.
func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
		secret = []byte(base64.URLEncoding.EncodeToString(b))
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Authenticator{
		username: cfg.Username,
		password: cfg.Password,
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Enabled reports whether requests must authenticate
func (a *Authenticator) Enabled() bool {
	return a.username != ""
}

// CheckPassword compares credentials in constant time
func (a *Authenticator) CheckPassword(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	return userOK && passOK
}

// IssueToken signs a stream token for subject
func (a *Authenticator) IssueToken(subject string) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)

	claims := StreamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken parses and verifies a stream token
func (a *Authenticator) ValidateToken(tokenString string) (*StreamClaims, error) {
	claims := &StreamClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects unauthenticated requests with 401 and a Basic
// challenge. It is a no-op when auth is disabled.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		if username, password, ok := c.Request.BasicAuth(); ok && a.CheckPassword(username, password) {
			c.Set(subjectContext, username)
			c.Next()
			return
		}

		if token := bearerToken(c); token != "" {
			if claims, err := a.ValidateToken(token); err == nil {
				c.Set(subjectContext, claims.Subject)
				c.Next()
				return
			}
		}

		c.Header("WWW-Authenticate", authRealm)
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

// bearerToken reads the Authorization header, falling back to ?token=
// for clients like <img> tags that cannot set headers
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}
