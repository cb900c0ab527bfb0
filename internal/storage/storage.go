// Package storage contains a storage interface.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/agora-blog/agora/internal/entities"
)

//go:generate mockgen -destination=./mock/storage.go -package=mock -source=storage.go

// ErrNotFound ...
var ErrNotFound = fmt.Errorf("not found")

// ErrAlreadyVoted is returned by CastVote when the user already voted for the post.
var ErrAlreadyVoted = fmt.Errorf("already voted")

// ErrAlreadyExists is returned when a unique constraint is violated.
var ErrAlreadyExists = fmt.Errorf("already exists")

// Storage provides methods for interacting with database.
type Storage interface {
	InTx(ctx context.Context, f func(s Storage) error) error

	CreateUser(ctx context.Context, u *entities.User) error
	GetUser(ctx context.Context, id string) (*entities.User, error)
	GetUserByEmail(ctx context.Context, email string) (*entities.User, error)

	CreatePost(ctx context.Context, p *entities.Post) error
	GetPost(ctx context.Context, id string) (*entities.Post, error)
	ListPosts(ctx context.Context, p *ListPostsParams) ([]*entities.Post, uint32, error)
	UpdatePost(ctx context.Context, id string, p *UpdatePostParams) error
	DeletePost(ctx context.Context, id string) (*entities.Image, error)

	// CastVote adds userID to the post's voters and increments the vote counter
	// in one atomic statement. ErrNotFound is returned when the post doesn't
	// exist, ErrAlreadyVoted when the user is already in the voters set.
	CastVote(ctx context.Context, postID, userID string, timestamp time.Time) error
}

// ListPostsParams ...
// Posts are always ordered by (votes_count DESC, created_at DESC).
// Owner limits the listing to posts created by the user, VotedBy to posts the
// user has voted for. Empty filters are ignored.
type ListPostsParams struct {
	Limit   uint32
	Offset  uint32
	Owner   string
	VotedBy string
}

// UpdatePostParams ...
// Image is optional, nil keeps the stored one.
type UpdatePostParams struct {
	Title     string
	Content   string
	Category  string
	Image     *entities.Image
	UpdatedAt time.Time
}
