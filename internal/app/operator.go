package app

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/parcelhub/ledger/internal/platform/httpx"
	"github.com/parcelhub/ledger/internal/shared"
)

const (
	// OperatorKeyHeader carries the shared operator API key.
	OperatorKeyHeader = "X-Operator-Key"
	// ActorHeader names the human or system acting through the key.
	ActorHeader = "X-Actor-ID"
)

// OperatorAuth verifies the operator key against a bcrypt hash. The digest
// of the last accepted key is remembered so steady traffic skips bcrypt.
type OperatorAuth struct {
	hash   []byte
	logger *slog.Logger

	mu       sync.RWMutex
	accepted [sha256.Size]byte
	warm     bool
}

// NewOperatorAuth constructs the verifier from a bcrypt hash.
func NewOperatorAuth(hash string, logger *slog.Logger) *OperatorAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperatorAuth{hash: []byte(hash), logger: logger}
}

// Verify checks a presented key.
func (a *OperatorAuth) Verify(key string) error {
	if key == "" {
		return shared.ErrInvalidCredentials
	}
	digest := sha256.Sum256([]byte(key))
	a.mu.RLock()
	hit := a.warm && subtle.ConstantTimeCompare(digest[:], a.accepted[:]) == 1
	a.mu.RUnlock()
	if hit {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return shared.ErrInvalidCredentials
	}
	a.mu.Lock()
	a.accepted = digest
	a.warm = true
	a.mu.Unlock()
	return nil
}

// Middleware rejects requests without a valid key and stores the actor in
// the request context. The actor falls back to "operator".
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Verify(r.Header.Get(OperatorKeyHeader)); err != nil {
			a.logger.Warn("operator key rejected", slog.String("path", r.URL.Path))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			actor = "operator"
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}
