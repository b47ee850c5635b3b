package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims bind an agent identity to its current agency name. Agent tokens
// are issued without an expiry: the product treats them as long-lived
// bearer credentials, so only iat/sub are stamped. Validation still honors
// exp when a token happens to carry one.
type Claims struct {
	AgencyName string `json:"agencyName"`
	Role       string `json:"role"`
	JTI        string `json:"jti"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
}

func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret)}
}

func (m *Manager) Issue(agentID, agencyName, role string) (string, error) {
	claims := Claims{
		AgencyName: agencyName,
		Role:       role,
		JTI:        uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  agentID,
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(m.secret)
}

// Validate parses and verifies a token. It is a boundary function: any
// malformed, tampered or unparseable input returns an error, never a panic.
func (m *Manager) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HS256
		_, ok := t.Method.(*jwt.SigningMethodHMAC)

		if !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)

	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.Subject == "" {
		return nil, errors.New("missing subject")
	}

	return claims, nil
}
