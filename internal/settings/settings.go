// Package settings persists the small user-facing settings file shared by the
// CLI and the MCP server.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const DefaultAPIBaseURL = "http://localhost:5055"

// Settings is the persisted value.
type Settings struct {
	CopperEnabled bool   `json:"copperEnabled"`
	APIBaseURL    string `json:"apiBaseUrl"`
}

// Defaults returns the settings used when no file exists.
func Defaults() Settings {
	return Settings{CopperEnabled: false, APIBaseURL: DefaultAPIBaseURL}
}

// URL joins path onto APIBaseURL.
func (s Settings) URL(path string) string {
	base := s.APIBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// DefaultPath returns $COPPER_SETTINGS, or settings.json under the user
// config directory.
func DefaultPath() string {
	if p := os.Getenv("COPPER_SETTINGS"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "copper-settings.json"
	}
	return filepath.Join(dir, "copper", "settings.json")
}

// Store reads and writes one settings file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Load returns the stored settings merged over the defaults. A missing or
// unreadable file yields the defaults.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Settings, error) {
	d := Defaults()
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	v.SetDefault("copperEnabled", d.CopperEnabled)
	v.SetDefault("apiBaseUrl", d.APIBaseURL)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) {
			return d, nil
		}
		return d, fmt.Errorf("read settings %s: %w", s.path, err)
	}
	out := Settings{
		CopperEnabled: v.GetBool("copperEnabled"),
		APIBaseURL:    v.GetString("apiBaseUrl"),
	}
	if out.APIBaseURL == "" {
		out.APIBaseURL = d.APIBaseURL
	}
	return out, nil
}

// Save writes settings as indented JSON, keeping the camelCase keys.
func (s *Store) Save(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(st)
}

func (s *Store) save(st Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, append(data, '\n'), 0o644)
}

// SetEnabled stores the enabled flag and returns the new settings.
func (s *Store) SetEnabled(enabled bool) (Settings, error) {
	return s.update(func(st *Settings) { st.CopperEnabled = enabled })
}

// Toggle flips the enabled flag.
func (s *Store) Toggle() (Settings, error) {
	return s.update(func(st *Settings) { st.CopperEnabled = !st.CopperEnabled })
}

// SetAPIBaseURL stores the API base URL.
func (s *Store) SetAPIBaseURL(u string) (Settings, error) {
	return s.update(func(st *Settings) { st.APIBaseURL = u })
}

func (s *Store) update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return st, err
	}
	fn(&st)
	return st, s.save(st)
}
