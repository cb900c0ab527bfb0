// Package service contains interface for service business-logic.
package service

import (
	"context"
	"errors"
	"io"

	"github.com/agora-blog/agora/internal/entities"
)

//go:generate mockgen -destination=./mock/service.go -package=mock -source=service.go

// ErrInvalidRequest wraps every validation failure; details are in the message.
var ErrInvalidRequest = errors.New("invalid request")

// ErrForbidden is returned on a non-owner mutation attempt.
var ErrForbidden = errors.New("forbidden")

// ErrWrongCredentials is returned on login with unknown email or wrong password.
var ErrWrongCredentials = errors.New("wrong credentials")

// Service ...
type Service interface {
	Register(ctx context.Context, name, email, password string) (*entities.User, string, error)
	Login(ctx context.Context, email, password string) (*entities.User, string, error)

	CreatePost(ctx context.Context, owner string, p CreatePostParams) (*entities.Post, error)
	GetPost(ctx context.Context, id string) (*entities.Post, error)
	ListPosts(ctx context.Context, page, limit uint32) ([]*entities.Post, *Pagination, error)
	ListUserPosts(ctx context.Context, owner string, page, limit uint32) ([]*entities.Post, *Pagination, error)
	ListVotedPosts(ctx context.Context, voter string, page, limit uint32) ([]*entities.Post, *Pagination, error)
	UpdatePost(ctx context.Context, actor, id string, p UpdatePostParams) (*entities.Post, error)
	DeletePost(ctx context.Context, actor, id string) error

	// Vote casts actor's vote, at most one per (actor, post). Returns the
	// updated post, storage.ErrNotFound or storage.ErrAlreadyVoted.
	Vote(ctx context.Context, actor, id string) (*entities.Post, error)
}

// ImageUpload is a not-yet-stored image from a multipart form.
type ImageUpload struct {
	Content     io.Reader
	Filename    string
	ContentType string
}

// CreatePostParams ...
type CreatePostParams struct {
	Title    string
	Content  string
	Category string
	Image    *ImageUpload
}

// UpdatePostParams ...
// Image is optional, nil keeps the current one.
type UpdatePostParams struct {
	Title    string
	Content  string
	Category string
	Image    *ImageUpload
}

// Pagination describes the listing window returned by ListPosts.
type Pagination struct {
	CurrentPage uint32
	TotalPages  uint32
	TotalPosts  uint32
	HasMore     bool
}
