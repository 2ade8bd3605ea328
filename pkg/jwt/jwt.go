package jwtutil

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const peerAudience = "squidhub-peer"

var ErrEmptySecret = errors.New("cluster secret is empty")

// PeerClaims identify the fleet member that signed a peer request.
type PeerClaims struct {
	Host string `json:"host"`
	jwt.RegisteredClaims
}

func NewPeerClaims(host string, expiry time.Duration) *PeerClaims {
	now := time.Now().UTC()
	host = strings.TrimSpace(host)
	return &PeerClaims{
		Host: host,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    host,
			Audience:  jwt.ClaimStrings{peerAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		},
	}
}

func GeneratePeerToken(claims *PeerClaims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParsePeerToken(tokenStr string, secret []byte) (*PeerClaims, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	claims := &PeerClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(peerAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Host == "" {
		claims.Host = claims.Issuer
	}
	return claims, nil
}
