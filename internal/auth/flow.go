// Package auth completes a login handed over by an external identity provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matheus3301/messenger/internal/blob"
	"github.com/matheus3301/messenger/internal/identity"
	"github.com/matheus3301/messenger/internal/session"
	"github.com/matheus3301/messenger/internal/status"
	"go.uber.org/zap"
)

// maxAvatarBytes bounds the avatar download.
const maxAvatarBytes = 10 << 20

// ErrInvalidProfile is returned for profiles without an address.
var ErrInvalidProfile = errors.New("auth: profile has no address")

// Profile is what the identity provider yields after a successful login.
type Profile struct {
	Address   string `json:"address"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Users provisions and reads user records. *chat.Store implements it.
type Users interface {
	UserExists(ctx context.Context, address string) (bool, error)
	InsertUser(ctx context.Context, u identity.User) error
	GetUser(ctx context.Context, address string) (identity.User, error)
}

// Flow drives the login state of one profile.
type Flow struct {
	users  Users
	blobs  blob.Gateway
	cache  *session.Cache
	status *status.Machine
	client *http.Client
	logger *zap.Logger
}

// NewFlow creates a login flow. A nil client uses a client with a timeout.
func NewFlow(users Users, blobs blob.Gateway, cache *session.Cache, st *status.Machine, client *http.Client, logger *zap.Logger) *Flow {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{users: users, blobs: blobs, cache: cache, status: st, client: client, logger: logger.Named("auth")}
}

// Restore marks a cached identity as signed in. It reports whether one was
// found.
func (f *Flow) Restore() bool {
	id, err := f.cache.Current()
	if err != nil {
		return false
	}
	if err := f.status.Transition(status.Ready); err != nil {
		return false
	}
	f.logger.Info("session restored", zap.String("user", id.SafeID()))
	return true
}

// Complete provisions the user on first login, or reads the stored name on a
// returning one, and caches the resulting identity.
func (f *Flow) Complete(ctx context.Context, p Profile) (session.Identity, error) {
	if p.Address == "" {
		return session.Identity{}, ErrInvalidProfile
	}
	if err := f.status.Transition(status.Authenticating); err != nil {
		return session.Identity{}, err
	}
	id, err := f.complete(ctx, p)
	if err != nil {
		f.status.Fail()
		f.logger.Error("login failed", zap.String("address", p.Address), zap.Error(err))
		return session.Identity{}, err
	}
	if err := f.status.Transition(status.Ready); err != nil {
		return session.Identity{}, err
	}
	f.logger.Info("logged in", zap.String("user", id.SafeID()))
	return id, nil
}

func (f *Flow) complete(ctx context.Context, p Profile) (session.Identity, error) {
	user := identity.User{FirstName: p.FirstName, LastName: p.LastName, Address: p.Address}
	exists, err := f.users.UserExists(ctx, p.Address)
	if err != nil {
		return session.Identity{}, err
	}

	id := session.Identity{Address: p.Address, AvatarURL: p.AvatarURL}
	if exists {
		stored, err := f.users.GetUser(ctx, p.Address)
		if err != nil {
			return session.Identity{}, fmt.Errorf("read user: %w", err)
		}
		id.DisplayName = stored.FullName()
	} else {
		if err := f.status.Transition(status.Provisioning); err != nil {
			return session.Identity{}, err
		}
		if err := f.users.InsertUser(ctx, user); err != nil {
			return session.Identity{}, fmt.Errorf("provision user: %w", err)
		}
		id.DisplayName = user.FullName()
	}

	if err := f.cache.Set(id); err != nil {
		return session.Identity{}, fmt.Errorf("cache identity: %w", err)
	}
	if exists || p.AvatarURL == "" {
		return id, nil
	}

	ref, err := f.uploadAvatar(ctx, user, p.AvatarURL)
	if err != nil {
		f.logger.Warn("profile picture not stored", zap.String("user", user.SafeID()), zap.Error(err))
		return id, nil
	}
	if err := f.cache.SetAvatar(ref); err != nil {
		return session.Identity{}, fmt.Errorf("cache avatar: %w", err)
	}
	id.AvatarURL = ref
	return id, nil
}

func (f *Flow) uploadAvatar(ctx context.Context, u identity.User, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download avatar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download avatar: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return "", fmt.Errorf("download avatar: %w", err)
	}
	return f.blobs.Upload(ctx, data, blob.ProfilePicturePath(u.ProfilePictureFileName()))
}

// Logout forgets the cached identity.
func (f *Flow) Logout() error {
	if err := f.cache.Clear(); err != nil {
		return err
	}
	if f.status.Current() != status.LoggedOut {
		if err := f.status.Transition(status.LoggedOut); err != nil {
			return err
		}
	}
	f.logger.Info("logged out")
	return nil
}
