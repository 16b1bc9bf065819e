package entrypoint

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/identity"
)

// DeletionWatcher is started for the signed-in user and stopped on sign-out.
type DeletionWatcher interface {
	Start() error
	Stop()
}

// Session signs the local user in and out and keeps the deletion watcher
// bound to whoever is signed in.
type Session struct {
	provider *identity.JWTProvider
	watcher  DeletionWatcher
	onSignIn func(ctx context.Context)

	mu sync.Mutex
}

// NewSession wraps provider. onSignIn, if set, runs after every successful
// sign-in.
func NewSession(provider *identity.JWTProvider, watcher DeletionWatcher, onSignIn func(ctx context.Context)) *Session {
	return &Session{provider: provider, watcher: watcher, onSignIn: onSignIn}
}

func (s *Session) SignIn(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, err := s.provider.SignIn(token)
	if err != nil {
		return "", err
	}

	// A new token may belong to another user.
	s.watcher.Stop()
	if err := s.watcher.Start(); err != nil {
		log.Printf("[SESSION] Deletion watcher not started: %v", err)
	}
	if s.onSignIn != nil {
		s.onSignIn(context.Background())
	}
	return userID, nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.watcher.Stop()
	s.provider.SignOut()
}

func (s *Session) CurrentUserID() (string, bool) {
	return s.provider.CurrentUserID()
}
