package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scholarbase/meetsvc/pkg/transport"
)

// credentials.go - join credential issuance
// A join credential is a short-lived JWT binding one identity to one room
// with publish/subscribe capability flags. It is never persisted; expiry is
// carried in the token and enforced again at the transport boundary.

// RoomClaims 房间令牌的自定义 claims
type RoomClaims struct {
	Room         string `json:"room"`
	DisplayName  string `json:"name,omitempty"`
	CanPublish   bool   `json:"pub"`
	CanSubscribe bool   `json:"sub_tracks"`
	jwt.RegisteredClaims
}

// TokenIssuer 签发与校验房间令牌
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer 创建签发器；ttl<=0 时默认 5 分钟
func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret key required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue mints a credential for one identity on one room.
func (t *TokenIssuer) Issue(identity, displayName, roomName string, canPublish bool) (transport.Credential, error) {
	now := t.now()
	expires := now.Add(t.ttl)

	claims := RoomClaims{
		Room:         roomName,
		DisplayName:  displayName,
		CanPublish:   canPublish,
		CanSubscribe: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return transport.Credential{}, fmt.Errorf("sign room token: %w", err)
	}

	return transport.Credential{
		Token:        signed,
		Identity:     identity,
		DisplayName:  displayName,
		RoomName:     roomName,
		CanPublish:   canPublish,
		CanSubscribe: true,
		ExpiresAt:    expires,
	}, nil
}

// Verify parses a signed room token back into its claims.
func (t *TokenIssuer) Verify(signed string) (*RoomClaims, error) {
	claims := &RoomClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid room token")
	}
	return claims, nil
}
