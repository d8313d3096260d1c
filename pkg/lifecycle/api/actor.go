package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
)

// ActorHeader carries the acting user's id when no JWT is configured.
const ActorHeader = "X-Actor-ID"

var errNoActor = errors.New("actor id is required")

// actorID identifies who is acting. A verified JWT "sub" claim wins over the
// X-Actor-ID header. The id is opaque; nothing here authorizes.
func actorID(r *http.Request) (uuid.UUID, error) {
	if _, claims, err := jwtauth.FromContext(r.Context()); err == nil && claims != nil {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			id, err := uuid.Parse(sub)
			if err != nil {
				return uuid.Nil, fmt.Errorf("invalid subject claim: %w", err)
			}
			return id, nil
		}
	}

	header := r.Header.Get(ActorHeader)
	if header == "" {
		return uuid.Nil, errNoActor
	}
	id, err := uuid.Parse(header)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s header: %w", ActorHeader, err)
	}
	return id, nil
}
