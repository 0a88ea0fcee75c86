package collector

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionKey is the session-scoped slot holding the session identifier.
const SessionKey = "sid"

// SessionID returns the identifier stored in the session slot, creating and
// persisting a new one when the slot is empty.
func SessionID(storage Storage) (string, error) {
	raw, err := storage.Load(SessionKey)
	if err != nil {
		return "", fmt.Errorf("load session id: %w", err)
	}
	if len(raw) > 0 {
		return string(raw), nil
	}
	id := uuid.NewString()
	if err := storage.Save(SessionKey, []byte(id)); err != nil {
		return "", fmt.Errorf("save session id: %w", err)
	}
	return id, nil
}
