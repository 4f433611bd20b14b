package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func GenerateJWT(secret []byte, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateJWT checks an HS256 token and returns its subject.
func ValidateJWT(secret []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("invalid token subject")
	}
	return sub, nil
}

// BearerResolver takes the owner from the subject of an Authorization bearer
// token. Requests without the header go to the fallback resolver.
type BearerResolver struct {
	secret   []byte
	fallback OwnerResolver
}

func (b *BearerResolver) ResolveOwnerID(r *http.Request) (int64, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return b.fallback.ResolveOwnerID(r)
	}

	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return 0, ErrInvalidToken
	}
	sub, err := ValidateJWT(b.secret, tokenString)
	if err != nil {
		return 0, ErrInvalidToken
	}
	id, err := ParseUserID(sub)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}
