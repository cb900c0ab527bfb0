// Package impl is implementation of service interface.
package impl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/agora-blog/agora/internal/auth"
	"github.com/agora-blog/agora/internal/entities"
	"github.com/agora-blog/agora/internal/imagestore"
	"github.com/agora-blog/agora/internal/service"
	"github.com/agora-blog/agora/internal/storage"
)

var log = logrus.WithField("layer", "service")

const (
	titleMinLen    = 3
	titleMaxLen    = 120
	contentMinLen  = 10
	contentMaxLen  = 5000
	categoryMaxLen = 50

	passwordMinLen = 8

	defaultListLimit = 10
	maxListLimit     = 100
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".webp": true,
}

type srv struct {
	s      storage.Storage
	images imagestore.Store
	signer *auth.Signer

	// async runs best-effort cleanups, replaced with a synchronous runner in tests.
	async func(f func())
}

// New creates new instance of service.
func New(s storage.Storage, images imagestore.Store, signer *auth.Signer) service.Service {
	return &srv{
		s:      s,
		images: images,
		signer: signer,
		async:  func(f func()) { go f() },
	}
}

func (s *srv) Register(ctx context.Context, name, email, password string) (*entities.User, string, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)

	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", service.ErrInvalidRequest)
	}

	if !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("%w: invalid email", service.ErrInvalidRequest)
	}

	if len(password) < passwordMinLen {
		return nil, "", fmt.Errorf("%w: password must be at least %d characters", service.ErrInvalidRequest, passwordMinLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &entities.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, "", fmt.Errorf("%w: email is already registered", service.ErrInvalidRequest)
		}

		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.signer.Sign(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	return user, token, nil
}

func (s *srv) Login(ctx context.Context, email, password string) (*entities.User, string, error) {
	user, err := s.s.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", service.ErrWrongCredentials
		}

		return nil, "", fmt.Errorf("failed to get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", service.ErrWrongCredentials
	}

	token, err := s.signer.Sign(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	return user, token, nil
}

func (s *srv) CreatePost(ctx context.Context, owner string, p service.CreatePostParams) (*entities.Post, error) {
	if err := validatePostFields(p.Title, p.Content, p.Category); err != nil {
		return nil, err
	}

	if p.Image == nil {
		return nil, fmt.Errorf("%w: image is required", service.ErrInvalidRequest)
	}

	ext, err := imageExtension(p.Image.Filename)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()

	img, err := s.images.Upload(ctx, p.Image.Content, fmt.Sprintf("post_%s%s", id, ext), p.Image.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	var post *entities.Post

	// the author lookup and the insert share a tx so the author row can not
	// disappear between them
	err = s.s.InTx(ctx, func(tx storage.Storage) error {
		author, err := tx.GetUser(ctx, owner)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("author %w", storage.ErrNotFound)
			}

			return fmt.Errorf("failed to get author: %w", err)
		}

		now := time.Now().UTC()
		post = &entities.Post{
			ID:         id,
			Owner:      owner,
			AuthorName: author.Name,
			Title:      strings.TrimSpace(p.Title),
			Content:    strings.TrimSpace(p.Content),
			Category:   strings.TrimSpace(p.Category),
			Image:      *img,
			Voters:     []string{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		return tx.CreatePost(ctx, post)
	})

	if err != nil {
		// the object is already in the bucket, try not to leak it
		if dErr := s.images.Delete(ctx, img.Key); dErr != nil {
			log.WithError(dErr).WithField("key", img.Key).Warn("failed to delete orphaned image")
		}

		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	return post, nil
}

func (s *srv) GetPost(ctx context.Context, id string) (*entities.Post, error) {
	post, err := s.s.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("post %w", storage.ErrNotFound)
		}

		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return post, nil
}

func (s *srv) ListPosts(ctx context.Context, page, limit uint32) ([]*entities.Post, *service.Pagination, error) {
	return s.listPosts(ctx, storage.ListPostsParams{}, page, limit)
}

func (s *srv) ListUserPosts(ctx context.Context, owner string, page, limit uint32) ([]*entities.Post, *service.Pagination, error) {
	return s.listPosts(ctx, storage.ListPostsParams{Owner: owner}, page, limit)
}

func (s *srv) ListVotedPosts(ctx context.Context, voter string, page, limit uint32) ([]*entities.Post, *service.Pagination, error) {
	return s.listPosts(ctx, storage.ListPostsParams{VotedBy: voter}, page, limit)
}

func (s *srv) listPosts(ctx context.Context, params storage.ListPostsParams, page, limit uint32) ([]*entities.Post, *service.Pagination, error) {
	if page < 1 {
		page = 1
	}

	if limit < 1 {
		limit = defaultListLimit
	}

	if limit > maxListLimit {
		limit = maxListLimit
	}

	// the product does not overflow uint32 for any page the data can reach,
	// but the parameters are caller-controlled
	offset64 := uint64(page-1) * uint64(limit)
	if offset64 > math.MaxUint32 {
		offset64 = math.MaxUint32
	}
	offset := uint32(offset64)

	params.Limit = limit
	params.Offset = offset

	posts, total, err := s.s.ListPosts(ctx, &params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list posts: %w", err)
	}

	return posts, &service.Pagination{
		CurrentPage: page,
		TotalPages:  (total + limit - 1) / limit,
		TotalPosts:  total,
		HasMore:     offset+uint32(len(posts)) < total,
	}, nil
}

func (s *srv) UpdatePost(ctx context.Context, actor, id string, p service.UpdatePostParams) (*entities.Post, error) {
	if err := validatePostFields(p.Title, p.Content, p.Category); err != nil {
		return nil, err
	}

	post, err := s.s.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("post %w", storage.ErrNotFound)
		}

		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	if post.Owner != actor {
		return nil, service.ErrForbidden
	}

	params := storage.UpdatePostParams{
		Title:     strings.TrimSpace(p.Title),
		Content:   strings.TrimSpace(p.Content),
		Category:  strings.TrimSpace(p.Category),
		UpdatedAt: time.Now().UTC(),
	}

	if p.Image != nil {
		ext, err := imageExtension(p.Image.Filename)
		if err != nil {
			return nil, err
		}

		img, err := s.images.Upload(ctx, p.Image.Content, fmt.Sprintf("post_%s%s", uuid.NewString(), ext), p.Image.ContentType)
		if err != nil {
			return nil, fmt.Errorf("failed to upload image: %w", err)
		}

		params.Image = img
	}

	if err := s.s.UpdatePost(ctx, id, &params); err != nil {
		if params.Image != nil {
			if dErr := s.images.Delete(ctx, params.Image.Key); dErr != nil {
				log.WithError(dErr).WithField("key", params.Image.Key).Warn("failed to delete orphaned image")
			}
		}

		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("post %w", storage.ErrNotFound)
		}

		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	if params.Image != nil {
		s.cleanupImage(post.Image.Key)
	}

	updated, err := s.s.GetPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get updated post: %w", err)
	}

	return updated, nil
}

func (s *srv) DeletePost(ctx context.Context, actor, id string) error {
	post, err := s.s.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("post %w", storage.ErrNotFound)
		}

		return fmt.Errorf("failed to get post: %w", err)
	}

	if post.Owner != actor {
		return service.ErrForbidden
	}

	img, err := s.s.DeletePost(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("post %w", storage.ErrNotFound)
		}

		return fmt.Errorf("failed to delete post: %w", err)
	}

	s.cleanupImage(img.Key)

	return nil
}

func (s *srv) Vote(ctx context.Context, actor, id string) (*entities.Post, error) {
	if err := s.s.CastVote(ctx, id, actor, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("post %w", storage.ErrNotFound)
		}

		if errors.Is(err, storage.ErrAlreadyVoted) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to cast vote: %w", err)
	}

	post, err := s.s.GetPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get voted post: %w", err)
	}

	return post, nil
}

// cleanupImage is fire-and-forget: failure must never fail the owning request.
func (s *srv) cleanupImage(key string) {
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.images.Delete(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to delete image")
		}
	})
}

func validatePostFields(title, content, category string) error {
	title, content, category = strings.TrimSpace(title), strings.TrimSpace(content), strings.TrimSpace(category)

	if len(title) < titleMinLen || len(title) > titleMaxLen {
		return fmt.Errorf("%w: title must be between %d and %d characters", service.ErrInvalidRequest, titleMinLen, titleMaxLen)
	}

	if len(content) < contentMinLen || len(content) > contentMaxLen {
		return fmt.Errorf("%w: content must be between %d and %d characters", service.ErrInvalidRequest, contentMinLen, contentMaxLen)
	}

	if category == "" || len(category) > categoryMaxLen {
		return fmt.Errorf("%w: category must be between 1 and %d characters", service.ErrInvalidRequest, categoryMaxLen)
	}

	return nil
}

func imageExtension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !imageExtensions[ext] {
		return "", fmt.Errorf("%w: invalid image extension", service.ErrInvalidRequest)
	}

	return ext, nil
}
