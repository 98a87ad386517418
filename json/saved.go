package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fwojciec/margin"
)

const timeLayout = time.RFC3339Nano

type savedEnvelope struct {
	Version int         `json:"version"`
	Token   string      `json:"token,omitempty"`
	Cookies []cookieDTO `json:"cookies,omitempty"`
}

type cookieDTO struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SaveSession writes saved credentials to path with owner-only permissions.
// An empty SavedSession removes the file instead.
func SaveSession(path string, s margin.SavedSession) error {
	if s.Empty() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove saved session: %w", err)
		}
		return nil
	}
	env := savedEnvelope{Version: 1, Token: s.Token}
	for _, c := range s.Cookies {
		env.Cookies = append(env.Cookies, cookieDTO(c))
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return writeFile(path, data)
}

// LoadSession reads saved credentials. A missing file yields an empty
// SavedSession and no error.
func LoadSession(path string) (margin.SavedSession, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return margin.SavedSession{}, nil
	}
	if err != nil {
		return margin.SavedSession{}, fmt.Errorf("read file: %w", err)
	}
	var env savedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return margin.SavedSession{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return margin.SavedSession{}, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	s := margin.SavedSession{Token: env.Token}
	for _, c := range env.Cookies {
		s.Cookies = append(s.Cookies, margin.Cookie(c))
	}
	return s, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
