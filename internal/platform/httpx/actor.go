package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const (
	// ActorHeader carries the admin id resolved by the upstream auth gateway.
	ActorHeader = "X-Actor-ID"
	// IdempotencyHeader lets clients retry creates safely.
	IdempotencyHeader = "Idempotency-Key"
)

// ParseActor reads ActorHeader. A missing or malformed header yields ok=false.
func ParseActor(r *http.Request) (shared.Actor, bool) {
	raw := strings.TrimSpace(r.Header.Get(ActorHeader))
	if raw == "" {
		return shared.Actor{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, false
	}
	return shared.Actor{ID: id}, true
}

// RequireActor returns the actor stored on the request context.
func RequireActor(r *http.Request) (shared.Actor, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.Valid() {
		return shared.Actor{}, shared.ErrActorRequired
	}
	return actor, nil
}
