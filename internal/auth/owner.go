// Package auth resolves which user owns a request.
package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

var (
	ErrInvalidOwner = errors.New("valid user ID is required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

const (
	DefaultUserID   = int64(1)
	userIDParameter = "userId"
)

// OwnerResolver maps a request to the numeric id of the user it acts for.
type OwnerResolver interface {
	ResolveOwnerID(r *http.Request) (int64, error)
}

// QueryParamResolver reads the userId query parameter and falls back to
// Default when it is absent. There is no authentication behind it.
type QueryParamResolver struct {
	Default int64
}

func (q QueryParamResolver) ResolveOwnerID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(userIDParameter))
	if raw == "" {
		if q.Default > 0 {
			return q.Default, nil
		}
		return DefaultUserID, nil
	}
	return ParseUserID(raw)
}

// ParseUserID accepts positive base 10 integers only.
func ParseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidOwner
	}
	return id, nil
}

// NewResolver returns a bearer token resolver when secret is set and the
// query parameter resolver otherwise.
func NewResolver(secret string, defaultUserID int64) OwnerResolver {
	query := QueryParamResolver{Default: defaultUserID}
	if secret == "" {
		return query
	}
	return &BearerResolver{secret: []byte(secret), fallback: query}
}
