// Package entities contains main entities of service.
package entities

import (
	"time"
)

// Image is an externally stored image: a public URL plus the handle needed to
// delete the object later.
type Image struct {
	URL string
	Key string
}

// Post ...
type Post struct {
	ID         string
	Owner      string
	AuthorName string
	Title      string
	Content    string
	Category   string
	Image      Image
	VotesCount uint32
	// Voters keeps insertion order for audit.
	Voters    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User ...
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
