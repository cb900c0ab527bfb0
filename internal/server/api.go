package server

import (
	"github.com/agora-blog/agora/internal/entities"
	"github.com/agora-blog/agora/internal/service"
)

// Error ...
type Error struct {
	Error string `json:"error"`
}

// Post ...
type Post struct {
	ID         string   `json:"id"`
	AuthorID   string   `json:"authorId"`
	AuthorName string   `json:"authorName"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	ImageURL   string   `json:"imageUrl"`
	VoteCount  uint32   `json:"voteCount"`
	Voters     []string `json:"voters"`
	CreatedAt  uint64   `json:"createdAt"`
	UpdatedAt  uint64   `json:"updatedAt"`
}

// Pagination ...
type Pagination struct {
	CurrentPage uint32 `json:"currentPage"`
	TotalPages  uint32 `json:"totalPages"`
	TotalPosts  uint32 `json:"totalPosts"`
	HasMore     bool   `json:"hasMore"`
}

// ListPostsResponse ...
type ListPostsResponse struct {
	Posts      []*Post    `json:"posts"`
	Pagination Pagination `json:"pagination"`
}

// PostResponse ...
type PostResponse struct {
	Post *Post `json:"post"`
}

// MessageResponse ...
type MessageResponse struct {
	Message string `json:"message"`
}

// User ...
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt uint64 `json:"createdAt"`
}

// AuthResponse ...
type AuthResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func toAPIPost(p *entities.Post) *Post {
	if p == nil {
		return nil
	}

	voters := p.Voters
	if voters == nil {
		voters = []string{}
	}

	return &Post{
		ID:         p.ID,
		AuthorID:   p.Owner,
		AuthorName: p.AuthorName,
		Title:      p.Title,
		Content:    p.Content,
		Category:   p.Category,
		ImageURL:   p.Image.URL,
		VoteCount:  p.VotesCount,
		Voters:     voters,
		CreatedAt:  uint64(p.CreatedAt.Unix()),
		UpdatedAt:  uint64(p.UpdatedAt.Unix()),
	}
}

func toAPIUser(u *entities.User) *User {
	if u == nil {
		return nil
	}

	return &User{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: uint64(u.CreatedAt.Unix()),
	}
}

func newListPostsResponse(posts []*entities.Post, p *service.Pagination) ListPostsResponse {
	out := ListPostsResponse{
		Posts: make([]*Post, len(posts)),
	}

	for i, v := range posts {
		out.Posts[i] = toAPIPost(v)
	}

	if p != nil {
		out.Pagination = Pagination{
			CurrentPage: p.CurrentPage,
			TotalPages:  p.TotalPages,
			TotalPosts:  p.TotalPosts,
			HasMore:     p.HasMore,
		}
	}

	return out
}
