package blob

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirUploadReturnsFileURL(t *testing.T) {
	root := t.TempDir()
	g, err := NewDir(root, nil)
	require.NoError(t, err)

	ref, err := g.Upload(context.Background(), []byte("png"), MessageImagePath("a_b_Mar 1, 2024 at 9:30:00 AM UTC_1234abcd"))
	require.NoError(t, err)

	u, err := url.Parse(ref)
	require.NoError(t, err)
	assert.True(t, u.IsAbs())
	assert.Equal(t, "file", u.Scheme)
	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, "a_b_Mar-1,-2024-at-9:30:00-AM-UTC_1234abcd.png", filepath.Base(u.Path))
}

func TestDirUploadFile(t *testing.T) {
	g, err := NewDir(t.TempDir(), nil)
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "clip.mov")
	require.NoError(t, os.WriteFile(local, []byte("video"), 0600))

	ref, err := g.UploadFile(context.Background(), local, "message_videos/c.mov")
	require.NoError(t, err)
	u, err := url.Parse(ref)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	require.NoError(t, err)
	assert.Equal(t, []byte("video"), data)
}

func TestDirRejectsEscapingNames(t *testing.T) {
	g, err := NewDir(t.TempDir(), nil)
	require.NoError(t, err)
	for _, name := range []string{"", "/etc/passwd", "../out.png", "a/../../b", "."} {
		_, err := g.Upload(context.Background(), []byte("x"), name)
		assert.ErrorIs(t, err, ErrUploadFailed, "name %q", name)
	}
}

func TestDirCanceledContext(t *testing.T) {
	g, err := NewDir(t.TempDir(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Upload(ctx, []byte("x"), "images/a.png")
	assert.ErrorIs(t, err, ErrUploadFailed)
}

func TestLayoutPaths(t *testing.T) {
	assert.Equal(t, "images/alice-x-com_profile_picture.png", ProfilePicturePath("alice-x-com_profile_picture.png"))
	assert.Equal(t, "message_images/a_b_Jan-2,-2006.png", MessageImagePath("a_b_Jan 2, 2006"))
	assert.Equal(t, "message_videos/a_b_Jan-2,-2006.mov", MessageVideoPath("a_b_Jan 2, 2006"))
}
