package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleMember     = "member"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super-admin"

	tokenTypeAccess = "access"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrMissingOrgClaim  = errors.New("token missing organization claim")
	ErrUnsupportedAlgo  = errors.New("unsupported signing algorithm")
	ErrUnknownTokenRole = errors.New("unknown role claim")
)

// Claims is the access-token payload minted by the OpenMeet auth tier.
// Subject carries the user ID; OrganizationID pins every downstream read.
type Claims struct {
	OrganizationID string `json:"org_id"`
	Role           string `json:"role"`
	TokenType      string `json:"token_type"`
	jwt.RegisteredClaims
}

func (c *Claims) IsSuperAdmin() bool {
	return c.Role == RoleSuperAdmin
}

func ValidRole(role string) bool {
	switch role {
	case RoleMember, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

type JWTManager struct {
	issuer       string
	audience     string
	accessSecret []byte
}

func NewJWTManager(issuer, audience, accessSecret string) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		audience:     audience,
		accessSecret: []byte(accessSecret),
	}
}

// SignAccessToken exists for tests and local tooling; production tokens come
// from the auth tier sharing the same secret and claim layout.
func (m *JWTManager) SignAccessToken(userID, organizationID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		OrganizationID: organizationID,
		Role:           role,
		TokenType:      tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgo, t.Header["alg"])
		}
		return m.accessSecret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.OrganizationID == "" {
		return nil, ErrMissingOrgClaim
	}
	if !ValidRole(claims.Role) {
		return nil, ErrUnknownTokenRole
	}
	return claims, nil
}
