package api

import (
	"context"
	"sync"

	"google.golang.org/grpc/peer"
)

// session is the in-memory authentication flag orig §4.3 describes:
// "Authentication is a session flag tracked in memory keyed by the
// transport connection; no tokens are persisted."
type session struct {
	username string
}

// sessionStore keys sessions by the client's remote address, which stays
// stable for the lifetime of one gRPC connection (the nearest equivalent
// this transport has to "the connection" once RPCs are unary rather than
// stream-scoped).
type sessionStore struct {
	mu    sync.Mutex
	byKey map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{byKey: make(map[string]*session)}
}

func connKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return p.Addr.String()
}

func (s *sessionStore) login(ctx context.Context, username string) {
	key := connKey(ctx)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key] = &session{username: username}
}

func (s *sessionStore) authenticatedUser(ctx context.Context) (string, bool) {
	key := connKey(ctx)
	if key == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byKey[key]
	if !ok {
		return "", false
	}
	return sess.username, true
}

func (s *sessionStore) clear(ctx context.Context) {
	key := connKey(ctx)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, key)
}
