package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/synctick/synctick/internal/room"
)

// rememberTTL is how long a remembered room code stays valid for auto-rejoin.
const rememberTTL = 24 * time.Hour

type rememberedRoom struct {
	Code    string    `json:"code"`
	SavedAt time.Time `json:"savedAt"`
}

// SaveRoom remembers the room code at path so the next invocation can rejoin
// it without asking.
func SaveRoom(path, code string, now time.Time) error {
	code, err := room.ValidateCode(code)
	if err != nil {
		return err
	}

	data, err := json.Marshal(rememberedRoom{Code: code, SavedAt: now})
	if err != nil {
		return fmt.Errorf("marshal remembered room: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write remembered room: %w", err)
	}
	return nil
}

// LoadRoom returns the remembered room code, or false when there is none,
// it is unreadable, or it is older than 24 hours.
func LoadRoom(path string, now time.Time) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	var r rememberedRoom
	if err := json.Unmarshal(data, &r); err != nil {
		return "", false
	}
	if now.Sub(r.SavedAt) > rememberTTL {
		return "", false
	}

	code, err := room.ValidateCode(r.Code)
	if err != nil {
		return "", false
	}
	return code, true
}
