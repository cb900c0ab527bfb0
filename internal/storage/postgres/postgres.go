// Package postgres is implementation of storage interface.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/agora-blog/agora/internal/entities"
	"github.com/agora-blog/agora/internal/storage"
)

var log = logrus.WithField("layer", "storage").WithField("package", "postgres")
var errBeginCalledWithinTx = errors.New("can not run InTx in tx")

const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

type pg struct {
	ext sqlx.ExtContext
}

type postDTO struct {
	ID         string         `db:"id"`
	Owner      string         `db:"owner"`
	AuthorName string         `db:"author_name"`
	Title      string         `db:"title"`
	Content    string         `db:"content"`
	Category   string         `db:"category"`
	ImageURL   string         `db:"image_url"`
	ImageKey   string         `db:"image_key"`
	VotesCount uint32         `db:"votes_count"`
	Voters     pq.StringArray `db:"voters"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

type userDTO struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

type imageDTO struct {
	URL string `db:"image_url"`
	Key string `db:"image_key"`
}

const selectPostQuery = `
	SELECT
		p.id, p.owner, p.author_name, p.title, p.content, p.category,
		p.image_url, p.image_key, p.votes_count, p.created_at, p.updated_at,
		COALESCE(
			array_agg(v.voted_by ORDER BY v.voted_at) FILTER (WHERE v.voted_by IS NOT NULL),
			'{}'
		) AS voters
	FROM post p
	LEFT JOIN vote v ON v.post_id = p.id
`

func (s pg) InTx(ctx context.Context, f func(s storage.Storage) error) error {
	db, ok := s.ext.(*sqlx.DB)
	if !ok {
		return errBeginCalledWithinTx
	}

	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to create tx: %w", err)
	}

	if err := f(pg{ext: tx}); err != nil {
		if err := tx.Rollback(); err != nil {
			log.WithError(err).Error("failed to rollback tx")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}

	return nil
}

func (s pg) CreateUser(ctx context.Context, u *entities.User) error {
	user := userDTO{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.UTC(),
	}

	if _, err := sqlx.NamedExecContext(ctx, s.ext,
		`
			INSERT INTO users(id, name, email, password_hash, created_at)
			VALUES(:id, :name, :email, :password_hash, :created_at)
		`, user,
	); err != nil {
		if err, ok := err.(*pq.Error); ok && err.Code == uniqueViolation {
			return storage.ErrAlreadyExists
		}

		return fmt.Errorf("failed to exec: %w", err)
	}

	return nil
}

func (s pg) GetUser(ctx context.Context, id string) (*entities.User, error) {
	return s.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (s pg) GetUserByEmail(ctx context.Context, email string) (*entities.User, error) {
	return s.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (s pg) getUser(ctx context.Context, query string, arg interface{}) (*entities.User, error) {
	var u userDTO

	if err := sqlx.GetContext(ctx, s.ext, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, fmt.Errorf("failed to query: %w", err)
	}

	return &entities.User{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}, nil
}

func (s pg) CreatePost(ctx context.Context, p *entities.Post) error {
	post := postDTO{
		ID:         p.ID,
		Owner:      p.Owner,
		AuthorName: p.AuthorName,
		Title:      p.Title,
		Content:    p.Content,
		Category:   p.Category,
		ImageURL:   p.Image.URL,
		ImageKey:   p.Image.Key,
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
	}

	if _, err := sqlx.NamedExecContext(ctx, s.ext,
		`
			INSERT INTO post(id, owner, author_name, title, content, category, image_url, image_key, votes_count, created_at, updated_at)
			VALUES(:id, :owner, :author_name, :title, :content, :category, :image_url, :image_key, 0, :created_at, :updated_at)
		`, post,
	); err != nil {
		if err, ok := err.(*pq.Error); ok && err.Code == foreignKeyViolation {
			return storage.ErrNotFound
		}

		return fmt.Errorf("failed to exec: %w", err)
	}

	return nil
}

func (s pg) GetPost(ctx context.Context, id string) (*entities.Post, error) {
	var p postDTO

	if err := sqlx.GetContext(ctx, s.ext, &p, selectPostQuery+`WHERE p.id = $1 GROUP BY p.id`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, fmt.Errorf("failed to query: %w", err)
	}

	return toPost(&p), nil
}

func (s pg) ListPosts(ctx context.Context, params *storage.ListPostsParams) ([]*entities.Post, uint32, error) {
	var (
		conds []string
		args  []interface{}
	)

	if params.Owner != "" {
		args = append(args, params.Owner)
		conds = append(conds, fmt.Sprintf("p.owner = $%d", len(args)))
	}

	if params.VotedBy != "" {
		args = append(args, params.VotedBy)
		conds = append(conds, fmt.Sprintf("EXISTS(SELECT 1 FROM vote uv WHERE uv.post_id = p.id AND uv.voted_by = $%d)", len(args)))
	}

	var where string
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total uint32
	if err := sqlx.GetContext(ctx, s.ext, &total, `SELECT COUNT(*) FROM post p `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count posts: %w", err)
	}

	args = append(args, params.Limit, params.Offset)

	var dto []*postDTO
	if err := sqlx.SelectContext(ctx, s.ext, &dto,
		fmt.Sprintf(`
			%s
			%s
			GROUP BY p.id
			ORDER BY p.votes_count DESC, p.created_at DESC
			LIMIT $%d OFFSET $%d
		`, selectPostQuery, where, len(args)-1, len(args)),
		args...,
	); err != nil {
		return nil, 0, fmt.Errorf("failed to query: %w", err)
	}

	out := make([]*entities.Post, len(dto))
	for i, v := range dto {
		out[i] = toPost(v)
	}

	return out, total, nil
}

func (s pg) UpdatePost(ctx context.Context, id string, p *storage.UpdatePostParams) error {
	var (
		res sql.Result
		err error
	)

	if p.Image != nil {
		res, err = s.ext.ExecContext(ctx,
			`
				UPDATE post SET title=$2, content=$3, category=$4, image_url=$5, image_key=$6, updated_at=$7
				WHERE id=$1
			`,
			id, p.Title, p.Content, p.Category, p.Image.URL, p.Image.Key, p.UpdatedAt.UTC(),
		)
	} else {
		res, err = s.ext.ExecContext(ctx,
			`UPDATE post SET title=$2, content=$3, category=$4, updated_at=$5 WHERE id=$1`,
			id, p.Title, p.Content, p.Category, p.UpdatedAt.UTC(),
		)
	}

	if err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}

	if c, _ := res.RowsAffected(); c == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (s pg) DeletePost(ctx context.Context, id string) (*entities.Image, error) {
	var img imageDTO

	// vote rows go away with the post, the schema cascades
	if err := sqlx.GetContext(ctx, s.ext, &img,
		`DELETE FROM post WHERE id=$1 RETURNING image_url, image_key`, id,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, fmt.Errorf("failed to exec: %w", err)
	}

	return &entities.Image{URL: img.URL, Key: img.Key}, nil
}

// CastVote records the vote and bumps the counter in a single statement, so two
// concurrent requests can not observe the same prior state. The insert is the
// precondition: ON CONFLICT DO NOTHING makes a duplicate (post_id, voted_by)
// pair produce an empty CTE and the counter stays put.
func (s pg) CastVote(ctx context.Context, postID, userID string, timestamp time.Time) error {
	res, err := s.ext.ExecContext(ctx,
		`
			WITH cast_vote AS (
				INSERT INTO vote(post_id, voted_by, voted_at)
				VALUES($1, $2, $3)
				ON CONFLICT DO NOTHING
				RETURNING post_id
			)
			UPDATE post SET votes_count = votes_count + 1
			FROM cast_vote
			WHERE post.id = cast_vote.post_id
		`,
		postID, userID, timestamp.UTC(),
	)

	if err != nil {
		if err, ok := err.(*pq.Error); ok && err.Code == foreignKeyViolation {
			return storage.ErrNotFound
		}

		return fmt.Errorf("failed to exec: %w", err)
	}

	if c, _ := res.RowsAffected(); c == 0 {
		var exists bool
		if err := sqlx.GetContext(ctx, s.ext, &exists, `SELECT EXISTS(SELECT 1 FROM post WHERE id=$1)`, postID); err != nil {
			return fmt.Errorf("failed to query: %w", err)
		}

		if !exists {
			return storage.ErrNotFound
		}

		return storage.ErrAlreadyVoted
	}

	return nil
}

func toPost(p *postDTO) *entities.Post {
	return &entities.Post{
		ID:         p.ID,
		Owner:      p.Owner,
		AuthorName: p.AuthorName,
		Title:      p.Title,
		Content:    p.Content,
		Category:   p.Category,
		Image:      entities.Image{URL: p.ImageURL, Key: p.ImageKey},
		VotesCount: p.VotesCount,
		Voters:     p.Voters,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// New creates new instance of pg.
func New(db *sql.DB) storage.Storage {
	return pg{
		ext: sqlx.NewDb(db, "postgres"),
	}
}
