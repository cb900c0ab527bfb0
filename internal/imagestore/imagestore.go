// Package imagestore contains an interface for external image storage.
package imagestore

import (
	"context"
	"io"

	"github.com/agora-blog/agora/internal/entities"
)

//go:generate mockgen -destination=./mock/imagestore.go -package=mock -source=imagestore.go

// Store uploads images and deletes them by the handle returned from Upload.
type Store interface {
	Upload(ctx context.Context, r io.Reader, filename, contentType string) (*entities.Image, error)
	Delete(ctx context.Context, key string) error
}
