//go:build integration
// +build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	m "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/agora-blog/agora/internal/entities"
	"github.com/agora-blog/agora/internal/storage"
)

var (
	db  *sql.DB
	ctx = context.Background()
	s   storage.Storage
)

func TestMain(m *testing.M) {
	shutdown := setup()

	s = New(db)

	code := m.Run()
	shutdown()
	os.Exit(code)
}

func setup() func() {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:12",
		Env:          map[string]string{"POSTGRES_PASSWORD": "root"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp"),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
	})
	if err != nil {
		logrus.WithError(err).Fatalf("failed to create container")
	}

	if err := c.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("failed to start container")
	}

	host, err := c.Host(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("failed to get host")
	}

	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		logrus.WithError(err).Fatal("failed to map port")
	}

	dsn := fmt.Sprintf("host=%s port=%d user=postgres password=root sslmode=disable", host, port.Int())

	db, err = sql.Open("postgres", dsn)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open connection")
	}

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("failed to ping postgres")
	}

	shutdownFn := func() {
		if c != nil {
			c.Terminate(ctx)
		}
	}

	migrate("postgres", "root", host, "postgres", port.Int())

	return shutdownFn
}

func migrate(username, password, hostname, dbname string, port int) {
	_, currFile, _, ok := runtime.Caller(0)
	if !ok {
		logrus.Fatal("failed to get current file location")
	}

	migrations := filepath.Join(currFile, "../../../../scripts/migrations/postgres/")

	migrator, err := m.New(
		fmt.Sprintf("file://%s", migrations),
		fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			username, password, hostname, port, dbname),
	)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create migrator")
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil {
		logrus.WithError(err).Fatal("failed to migrate")
	}
}

func cleanup(t *testing.T) {
	_, err := db.ExecContext(ctx, `DELETE FROM vote`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM post`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM users`)
	require.NoError(t, err)
}

func createUser(t *testing.T, id string) {
	require.NoError(t, s.CreateUser(ctx, &entities.User{
		ID:           id,
		Name:         "name_" + id,
		Email:        id + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now(),
	}))
}

func createPost(t *testing.T, id, owner string, createdAt time.Time) {
	require.NoError(t, s.CreatePost(ctx, &entities.Post{
		ID:         id,
		Owner:      owner,
		AuthorName: "name_" + owner,
		Title:      "title " + id,
		Content:    "content " + id,
		Category:   "general",
		Image:      entities.Image{URL: "url_" + id, Key: "key_" + id},
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}))
}

func TestPg_CreateUser(t *testing.T) {
	defer cleanup(t)

	expected := entities.User{
		ID:           "1",
		Name:         "john",
		Email:        "john@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now(),
	}

	require.NoError(t, s.CreateUser(ctx, &expected))

	u, err := s.GetUser(ctx, expected.ID)
	require.NoError(t, err)
	assert.Equal(t, expected.Name, u.Name)
	assert.Equal(t, expected.Email, u.Email)
	assert.Equal(t, expected.PasswordHash, u.PasswordHash)
	assert.Equal(t, expected.CreatedAt.UTC().Unix(), u.CreatedAt.Unix())

	u, err = s.GetUserByEmail(ctx, expected.Email)
	require.NoError(t, err)
	assert.Equal(t, expected.ID, u.ID)
}

func TestPg_CreateUser_duplicateEmail(t *testing.T) {
	defer cleanup(t)

	createUser(t, "1")

	err := s.CreateUser(ctx, &entities.User{
		ID:        "2",
		Name:      "other",
		Email:     "1@example.com",
		CreatedAt: time.Now(),
	})
	require.True(t, errors.Is(err, storage.ErrAlreadyExists))
}

func TestPg_GetUser_notFound(t *testing.T) {
	defer cleanup(t)

	_, err := s.GetUser(ctx, "missing")
	require.Equal(t, storage.ErrNotFound, err)

	_, err = s.GetUserByEmail(ctx, "missing@example.com")
	require.Equal(t, storage.ErrNotFound, err)
}

func TestPg_CreatePost(t *testing.T) {
	defer cleanup(t)

	createUser(t, "owner")

	expected := entities.Post{
		ID:         "1",
		Owner:      "owner",
		AuthorName: "john",
		Title:      "title",
		Content:    "content",
		Category:   "general",
		Image:      entities.Image{URL: "url", Key: "key"},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	require.NoError(t, s.CreatePost(ctx, &expected))

	p, err := s.GetPost(ctx, expected.ID)
	require.NoError(t, err)
	assert.Equal(t, expected.Owner, p.Owner)
	assert.Equal(t, expected.AuthorName, p.AuthorName)
	assert.Equal(t, expected.Title, p.Title)
	assert.Equal(t, expected.Content, p.Content)
	assert.Equal(t, expected.Category, p.Category)
	assert.Equal(t, expected.Image, p.Image)
	assert.EqualValues(t, 0, p.VotesCount)
	assert.Empty(t, p.Voters)
	assert.Equal(t, expected.CreatedAt.UTC().Unix(), p.CreatedAt.Unix())
}

func TestPg_CreatePost_unknownOwner(t *testing.T) {
	defer cleanup(t)

	err := s.CreatePost(ctx, &entities.Post{
		ID:        "1",
		Owner:     "missing",
		CreatedAt: time.Now(),
	})
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestPg_GetPost_notFound(t *testing.T) {
	defer cleanup(t)

	_, err := s.GetPost(ctx, "missing")
	require.Equal(t, storage.ErrNotFound, err)
}

func TestPg_ListPosts(t *testing.T) {
	defer cleanup(t)

	createUser(t, "owner")
	createUser(t, "voter")

	now := time.Now()
	createPost(t, "old", "owner", now.Add(-2*time.Hour))
	createPost(t, "new", "owner", now.Add(-time.Hour))
	createPost(t, "popular", "owner", now.Add(-3*time.Hour))

	require.NoError(t, s.CastVote(ctx, "popular", "voter", now))

	// voted post first, then newest first
	posts, total, err := s.ListPosts(ctx, &storage.ListPostsParams{Limit: 10, Offset: 0})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, posts, 3)
	assert.Equal(t, "popular", posts[0].ID)
	assert.Equal(t, "new", posts[1].ID)
	assert.Equal(t, "old", posts[2].ID)

	posts, total, err = s.ListPosts(ctx, &storage.ListPostsParams{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, posts, 1)
	assert.Equal(t, "old", posts[0].ID)

	posts, total, err = s.ListPosts(ctx, &storage.ListPostsParams{Limit: 10, Offset: 10})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Empty(t, posts)
}

func TestPg_ListPosts_filters(t *testing.T) {
	defer cleanup(t)

	createUser(t, "alice")
	createUser(t, "bob")

	now := time.Now()
	createPost(t, "a1", "alice", now.Add(-time.Hour))
	createPost(t, "a2", "alice", now)
	createPost(t, "b1", "bob", now)

	require.NoError(t, s.CastVote(ctx, "a1", "bob", now))
	require.NoError(t, s.CastVote(ctx, "b1", "alice", now))

	posts, total, err := s.ListPosts(ctx, &storage.ListPostsParams{Limit: 10, Owner: "alice"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, posts, 2)
	assert.Equal(t, "a1", posts[0].ID) // voted, ranks above the newer one
	assert.Equal(t, "a2", posts[1].ID)

	posts, total, err = s.ListPosts(ctx, &storage.ListPostsParams{Limit: 10, VotedBy: "bob"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, posts, 1)
	assert.Equal(t, "a1", posts[0].ID)

	posts, total, err = s.ListPosts(ctx, &storage.ListPostsParams{Limit: 10, VotedBy: "alice"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, posts, 1)
	assert.Equal(t, "b1", posts[0].ID)
	assert.Equal(t, []string{"alice"}, posts[0].Voters)
}

func TestPg_UpdatePost(t *testing.T) {
	defer cleanup(t)

	createUser(t, "owner")
	createPost(t, "1", "owner", time.Now())

	updatedAt := time.Now().Add(time.Minute)

	require.NoError(t, s.UpdatePost(ctx, "1", &storage.UpdatePostParams{
		Title:     "new title",
		Content:   "new content",
		Category:  "other",
		UpdatedAt: updatedAt,
	}))

	p, err := s.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "new title", p.Title)
	assert.Equal(t, "new content", p.Content)
	assert.Equal(t, "other", p.Category)
	assert.Equal(t, entities.Image{URL: "url_1", Key: "key_1"}, p.Image)
	assert.Equal(t, updatedAt.UTC().Unix(), p.UpdatedAt.Unix())

	require.NoError(t, s.UpdatePost(ctx, "1", &storage.UpdatePostParams{
		Title:     "new title",
		Content:   "new content",
		Category:  "other",
		Image:     &entities.Image{URL: "url_2", Key: "key_2"},
		UpdatedAt: updatedAt,
	}))

	p, err = s.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, entities.Image{URL: "url_2", Key: "key_2"}, p.Image)
}

func TestPg_UpdatePost_notFound(t *testing.T) {
	defer cleanup(t)

	err := s.UpdatePost(ctx, "missing", &storage.UpdatePostParams{UpdatedAt: time.Now()})
	require.Equal(t, storage.ErrNotFound, err)
}

func TestPg_DeletePost(t *testing.T) {
	defer cleanup(t)

	createUser(t, "owner")
	createUser(t, "voter")
	createPost(t, "1", "owner", time.Now())

	require.NoError(t, s.CastVote(ctx, "1", "voter", time.Now()))

	img, err := s.DeletePost(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, &entities.Image{URL: "url_1", Key: "key_1"}, img)

	_, err = s.GetPost(ctx, "1")
	require.Equal(t, storage.ErrNotFound, err)

	// votes go away with the post
	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vote`).Scan(&count))
	assert.Zero(t, count)
}

func TestPg_DeletePost_notFound(t *testing.T) {
	defer cleanup(t)

	_, err := s.DeletePost(ctx, "missing")
	require.Equal(t, storage.ErrNotFound, err)
}

func TestPg_CastVote(t *testing.T) {
	defer cleanup(t)

	createUser(t, "owner")
	createUser(t, "alice")
	createUser(t, "bob")
	createPost(t, "1", "owner", time.Now())

	require.NoError(t, s.CastVote(ctx, "1", "alice", time.Now()))

	p, err := s.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.VotesCount)
	assert.Equal(t, []string{"alice"}, p.Voters)

	// second vote by the same user changes nothing
	require.Equal(t, storage.ErrAlreadyVoted, s.CastVote(ctx, "1", "alice", time.Now()))

	p, err = s.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.VotesCount)

	require.NoError(t, s.CastVote(ctx, "1", "bob", time.Now()))

	p, err = s.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.VotesCount)
	assert.Equal(t, []string{"alice", "bob"}, p.Voters)
}

func TestPg_CastVote_postNotFound(t *testing.T) {
	defer cleanup(t)

	createUser(t, "alice")

	require.Equal(t, storage.ErrNotFound, s.CastVote(ctx, "missing", "alice", time.Now()))
}

func TestPg_CastVote_unknownUser(t *testing.T) {
	defer cleanup(t)

	createUser(t, "owner")
	createPost(t, "1", "owner", time.Now())

	err := s.CastVote(ctx, "1", "missing", time.Now())
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestPg_CastVote_concurrentDistinctVoters(t *testing.T) {
	defer cleanup(t)

	const voters = 20

	createUser(t, "owner")
	createPost(t, "1", "owner", time.Now())

	for i := 0; i < voters; i++ {
		createUser(t, fmt.Sprintf("voter_%d", i))
	}

	var g errgroup.Group
	for i := 0; i < voters; i++ {
		userID := fmt.Sprintf("voter_%d", i)
		g.Go(func() error {
			return s.CastVote(ctx, "1", userID, time.Now())
		})
	}
	require.NoError(t, g.Wait())

	p, err := s.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.EqualValues(t, voters, p.VotesCount)
	assert.Len(t, p.Voters, voters)
	assert.EqualValues(t, p.VotesCount, len(p.Voters))

	for i := 0; i < voters; i++ {
		assert.Contains(t, p.Voters, fmt.Sprintf("voter_%d", i))
	}
}

func TestPg_CastVote_concurrentSameVoter(t *testing.T) {
	defer cleanup(t)

	const attempts = 10

	createUser(t, "owner")
	createUser(t, "alice")
	createPost(t, "1", "owner", time.Now())

	errCh := make(chan error, attempts)

	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			errCh <- s.CastVote(ctx, "1", "alice", time.Now())
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(errCh)

	var succeeded, rejected int
	for err := range errCh {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, storage.ErrAlreadyVoted):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)

	p, err := s.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.VotesCount)
	assert.Equal(t, []string{"alice"}, p.Voters)
}

func TestPg_InTx(t *testing.T) {
	defer cleanup(t)

	createUser(t, "owner")

	err := s.InTx(ctx, func(tx storage.Storage) error {
		if err := tx.CreatePost(ctx, &entities.Post{
			ID:         "1",
			Owner:      "owner",
			AuthorName: "name_owner",
			Title:      "title",
			Content:    "content",
			Category:   "general",
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}); err != nil {
			return err
		}
		return errors.New("rollback")
	})
	require.Error(t, err)

	_, err = s.GetPost(ctx, "1")
	require.Equal(t, storage.ErrNotFound, err)

	require.NoError(t, s.InTx(ctx, func(tx storage.Storage) error {
		return tx.CreatePost(ctx, &entities.Post{
			ID:         "2",
			Owner:      "owner",
			AuthorName: "name_owner",
			Title:      "title",
			Content:    "content",
			Category:   "general",
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		})
	}))

	_, err = s.GetPost(ctx, "2")
	require.NoError(t, err)
}
