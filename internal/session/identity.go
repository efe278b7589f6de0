// Package session holds per-profile state: directory layout and the cached
// identity of the signed-in user.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/messenger/internal/identity"
	"github.com/matheus3301/messenger/internal/message"
)

// ErrNotAuthenticated is returned when an operation needs a signed-in user
// and the cache is empty.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Identity is the acting user of a profile.
type Identity struct {
	Address     string `toml:"address"`
	DisplayName string `toml:"display_name"`
	AvatarURL   string `toml:"avatar_url,omitempty"`
}

// SafeID returns the storage key of the user.
func (i Identity) SafeID() string {
	return identity.SafeID(i.Address)
}

// Sender returns the identity as a message sender.
func (i Identity) Sender() message.Sender {
	return message.Sender{ID: i.SafeID(), DisplayName: i.DisplayName, PhotoURL: i.AvatarURL}
}

// Cache holds the current identity and mirrors it to a TOML file.
type Cache struct {
	mu      sync.RWMutex
	path    string
	current *Identity
}

// NewCache creates an empty cache persisted at path. An empty path keeps the
// cache in memory only.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// LoadCache opens the cache at path, restoring a previously saved identity.
func LoadCache(path string) (*Cache, error) {
	c := NewCache(path)
	if path == "" {
		return c, nil
	}
	var id Identity
	_, err := toml.DecodeFile(path, &id)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if id.Address != "" {
		c.current = &id
	}
	return c, nil
}

// Current returns the signed-in identity or ErrNotAuthenticated.
func (c *Cache) Current() (Identity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Identity{}, ErrNotAuthenticated
	}
	return *c.current, nil
}

// Set replaces the identity and persists it.
func (c *Cache) Set(id Identity) error {
	if id.Address == "" {
		return errors.New("session: identity without address")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.save(id); err != nil {
		return err
	}
	c.current = &id
	return nil
}

// SetAvatar records the avatar reference of the current identity.
func (c *Cache) SetAvatar(ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ErrNotAuthenticated
	}
	next := *c.current
	next.AvatarURL = ref
	if err := c.save(next); err != nil {
		return err
	}
	c.current = &next
	return nil
}

// Clear forgets the identity.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}

func (c *Cache) save(id Identity) error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(id)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
