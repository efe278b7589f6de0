package identity

import "strings"

var safeReplacer = strings.NewReplacer(".", "-", "@", "-")

// SafeID encodes an email address into a storage-path-safe key.
// Only raw addresses should be passed in; an already encoded id is treated as
// ordinary text.
func SafeID(address string) string {
	return safeReplacer.Replace(address)
}

// User is a registered chat user as supplied at signup.
type User struct {
	FirstName string
	LastName  string
	Address   string
}

// SafeID returns the storage key of the user.
func (u User) SafeID() string {
	return SafeID(u.Address)
}

// FullName returns "first last", the name stored in the user directory.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// ProfilePictureFileName returns the blob file name of the user's avatar.
func (u User) ProfilePictureFileName() string {
	return u.SafeID() + "_profile_picture.png"
}
