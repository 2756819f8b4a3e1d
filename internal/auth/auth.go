package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the verified user attached to a connection. The coordination
// subsystem trusts it as-is and performs no credential checks of its own.
type Identity struct {
	UserID string
	Name   string
}

var ErrUnauthenticated = errors.New("unauthenticated connection")

// Authenticator resolves the identity for an incoming connection request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// JWT verifies an HS256 token from the Authorization header or the token
// query parameter and reads the user id from the subject claim.
type JWT struct {
	secret []byte
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

func (a *JWT) Authenticate(r *http.Request) (Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	name, _ := claims["name"].(string)
	return Identity{UserID: sub, Name: name}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Guest accepts every connection, taking the user id from the uid query
// parameter or minting one. For development runs without an auth service.
type Guest struct{}

func (Guest) Authenticate(r *http.Request) (Identity, error) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		uid = uuid.New().String()
	}
	name := r.URL.Query().Get("name")
	return Identity{UserID: uid, Name: name}, nil
}
