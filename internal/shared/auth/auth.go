package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// Resolver traduz o header Authorization em um userId.
// Aceita dois formatos, conforme o contrato com o serviço de identidade:
//   - token JWT assinado (claim "sub")
//   - identificador cru de conta guest ("guest:<uuid>")
type Resolver struct {
	secret []byte
}

func NewResolver(secret string) *Resolver { return &Resolver{secret: []byte(secret)} }

// UserID extrai e valida o userId do request. Nunca diferencia
// "token ausente" de "token inválido" na resposta.
func (a *Resolver) UserID(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", ErrUnauthorized
	}
	return a.resolve(strings.TrimPrefix(h, "Bearer "))
}

func (a *Resolver) resolve(token string) (string, error) {
	if strings.HasPrefix(token, "guest:") {
		if _, err := uuid.Parse(strings.TrimPrefix(token, "guest:")); err != nil {
			return "", ErrUnauthorized
		}
		return token, nil
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrUnauthorized
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrUnauthorized
	}
	return sub, nil
}

// MintToken emite um token assinado de longa duração para um userId.
// Usado por tooling local e testes; a emissão real vive no serviço de auth.
func (a *Resolver) MintToken(userID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// NewGuestID gera um identificador de conta guest aceito como token cru.
func NewGuestID() string { return "guest:" + uuid.NewString() }
