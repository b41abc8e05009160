package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("viewer: token required")
	ErrInvalidToken   = errors.New("viewer: invalid token")
	ErrExpiredToken   = errors.New("viewer: token expired")
	ErrMissingSubject = errors.New("viewer: subject required")
)

// ViewerClaims mirrors the access token payload issued by the forum backend.
// The backend encodes the subject as a number.
type ViewerClaims struct {
	Sub      json.Number `json:"sub"`
	Username string      `json:"username"`
	Role     string      `json:"role"`
	jwt.RegisteredClaims
}

// GetSubject implements jwt.Claims for the numeric subject.
func (c ViewerClaims) GetSubject() (string, error) {
	return c.Sub.String(), nil
}

// Viewer is the identity the client acts as.
type Viewer struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// ViewerParserConfig describes how access tokens are read.
//
// The client does not own the backend signing key, so SigningSecret is
// optional; when it is empty the signature is not checked and only the
// registered time claims are validated.
type ViewerParserConfig struct {
	SigningSecret []byte
	Clock         func() time.Time
}

// ViewerParser extracts the viewer identity from forum access tokens.
type ViewerParser struct {
	signingSecret []byte
	clock         func() time.Time
}

func NewViewerParser(cfg ViewerParserConfig) *ViewerParser {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ViewerParser{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		clock:         clock,
	}
}

// Parse returns the viewer encoded in tokenString.
func (p *ViewerParser) Parse(tokenString string) (Viewer, error) {
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer"))
	if token == "" {
		return Viewer{}, ErrMissingToken
	}

	claims := &ViewerClaims{}
	if err := p.parseClaims(token, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Viewer{}, ErrExpiredToken
		}
		return Viewer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject := strings.TrimSpace(claims.Sub.String())
	if subject == "" {
		return Viewer{}, ErrMissingSubject
	}
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || id <= 0 {
		return Viewer{}, fmt.Errorf("%w: subject %q", ErrInvalidToken, subject)
	}

	viewer := Viewer{
		ID:       id,
		Username: strings.TrimSpace(claims.Username),
		Role:     strings.ToLower(strings.TrimSpace(claims.Role)),
	}
	if claims.ExpiresAt != nil {
		viewer.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return viewer, nil
}

func (p *ViewerParser) parseClaims(token string, claims *ViewerClaims) error {
	if len(p.signingSecret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return err
		}
		return jwt.NewValidator(jwt.WithTimeFunc(p.clock)).Validate(claims)
	}

	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return p.signingSecret, nil
		},
		jwt.WithTimeFunc(p.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return err
	}
	if parsed == nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
