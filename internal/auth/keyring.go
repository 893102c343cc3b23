package auth

import (
	"fmt"
	"sync"
)

type keyEntry struct {
	hash string
	role string
}

// APIKeyring maps client IDs to hashed API keys. Keys are hashed once at
// registration; plaintext is never retained.
type APIKeyring struct {
	mu      sync.RWMutex
	entries map[string]keyEntry
}

// NewAPIKeyring creates an empty keyring.
func NewAPIKeyring() *APIKeyring {
	return &APIKeyring{entries: make(map[string]keyEntry)}
}

// Add registers an API key for clientID with the given role, replacing any
// existing key for that client.
func (k *APIKeyring) Add(clientID, apiKey, role string) error {
	if clientID == "" || apiKey == "" {
		return fmt.Errorf("auth: keyring entry requires client id and api key")
	}
	hash, err := HashAPIKey(apiKey)
	if err != nil {
		return fmt.Errorf("auth: hash api key for %q: %w", clientID, err)
	}
	k.mu.Lock()
	k.entries[clientID] = keyEntry{hash: hash, role: role}
	k.mu.Unlock()
	return nil
}

// Verify checks apiKey against the registered hash for clientID and returns
// the client's role. Unknown clients burn a dummy verification so response
// timing does not reveal which client IDs exist.
func (k *APIKeyring) Verify(clientID, apiKey string) (string, bool) {
	k.mu.RLock()
	entry, ok := k.entries[clientID]
	k.mu.RUnlock()

	if !ok {
		DummyVerify()
		return "", false
	}
	valid, err := VerifyAPIKey(apiKey, entry.hash)
	if err != nil || !valid {
		return "", false
	}
	return entry.role, true
}

// Empty reports whether no keys are registered.
func (k *APIKeyring) Empty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries) == 0
}
