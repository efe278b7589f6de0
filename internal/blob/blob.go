// Package blob uploads binary attachments and resolves them to download
// references.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrUploadFailed is returned when the bytes could not be stored.
	ErrUploadFailed = errors.New("blob: upload failed")
	// ErrReferenceResolutionFailed is returned when the bytes were stored but
	// no download reference could be produced for them.
	ErrReferenceResolutionFailed = errors.New("blob: reference resolution failed")
)

// Gateway stores blobs under a destination name and returns a download
// reference for each.
type Gateway interface {
	// Upload stores data in memory.
	Upload(ctx context.Context, data []byte, name string) (string, error)
	// UploadFile streams the file at localPath without buffering it whole.
	UploadFile(ctx context.Context, localPath, name string) (string, error)
}

// ProfilePicturePath is the destination of a user's avatar.
func ProfilePicturePath(fileName string) string {
	return "images/" + fileName
}

// MessageImagePath is the destination of the photo attached to messageID.
func MessageImagePath(messageID string) string {
	return "message_images/" + attachmentName(messageID) + ".png"
}

// MessageVideoPath is the destination of the video attached to messageID.
func MessageVideoPath(messageID string) string {
	return "message_videos/" + attachmentName(messageID) + ".mov"
}

func attachmentName(messageID string) string {
	return strings.ReplaceAll(messageID, " ", "-")
}

// cleanName validates a destination name and returns it slash-cleaned.
func cleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: invalid destination %q", ErrUploadFailed, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: invalid destination %q", ErrUploadFailed, name)
	}
	return clean, nil
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mov":
		return "video/quicktime"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
