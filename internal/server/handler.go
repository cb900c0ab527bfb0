package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/agora-blog/agora/internal/auth"
	"github.com/agora-blog/agora/internal/entities"
	"github.com/agora-blog/agora/internal/service"
	"github.com/agora-blog/agora/internal/storage"
)

var errInvalidRequest = errors.New("invalid request")

func (s server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode json")
		return
	}

	user, token, err := s.s.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeOK(w, http.StatusCreated, AuthResponse{Token: token, User: toAPIUser(user)})
}

func (s server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode json")
		return
	}

	user, token, err := s.s.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, AuthResponse{Token: token, User: toAPIUser(user)})
}

func (s server) listPosts(w http.ResponseWriter, r *http.Request) {
	page, limit, err := extractPageParamsFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	posts, pagination, err := s.s.ListPosts(r.Context(), page, limit)
	if err != nil {
		writeInternalErrorf(r.Context(), w, "failed to list posts: %s", err.Error())
		return
	}

	writeOK(w, http.StatusOK, newListPostsResponse(posts, pagination))
}

func (s server) listMyPosts(w http.ResponseWriter, r *http.Request) {
	s.listActorPosts(w, r, s.s.ListUserPosts)
}

func (s server) listVotedPosts(w http.ResponseWriter, r *http.Request) {
	s.listActorPosts(w, r, s.s.ListVotedPosts)
}

func (s server) listActorPosts(
	w http.ResponseWriter, r *http.Request,
	list func(ctx context.Context, actor string, page, limit uint32) ([]*entities.Post, *service.Pagination, error),
) {
	actor, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	page, limit, err := extractPageParamsFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	posts, pagination, err := list(r.Context(), actor, page, limit)
	if err != nil {
		writeInternalErrorf(r.Context(), w, "failed to list posts: %s", err.Error())
		return
	}

	writeOK(w, http.StatusOK, newListPostsResponse(posts, pagination))
}

func (s server) getPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	post, err := s.s.GetPost(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, PostResponse{Post: toAPIPost(post)})
}

func (s server) createPost(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	params, err := extractPostParamsFromForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	post, err := s.s.CreatePost(r.Context(), actor, service.CreatePostParams{
		Title:    params.Title,
		Content:  params.Content,
		Category: params.Category,
		Image:    params.Image,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.cache.Invalidate("/posts")

	writeOK(w, http.StatusCreated, PostResponse{Post: toAPIPost(post)})
}

func (s server) updatePost(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	params, err := extractPostParamsFromForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	post, err := s.s.UpdatePost(r.Context(), actor, id, *params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.cache.Invalidate("/posts")

	writeOK(w, http.StatusOK, PostResponse{Post: toAPIPost(post)})
}

func (s server) deletePost(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	if err := s.s.DeletePost(r.Context(), actor, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.cache.Invalidate("/posts")

	writeOK(w, http.StatusOK, MessageResponse{Message: "post deleted"})
}

func (s server) vote(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	post, err := s.s.Vote(r.Context(), actor, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.cache.Invalidate("/posts")

	writeOK(w, http.StatusOK, PostResponse{Post: toAPIPost(post)})
}

func (s server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrWrongCredentials):
		writeError(w, http.StatusUnauthorized, "wrong email or password")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "you are not the author of this post")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrAlreadyVoted):
		writeError(w, http.StatusConflict, "already voted")
	default:
		writeInternalErrorf(r.Context(), w, "request failed: %s", err.Error())
	}
}

func extractPageParamsFromQuery(q url.Values) (page, limit uint32, err error) {
	if s := q.Get("page"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: failed to parse page", errInvalidRequest)
		}

		page = uint32(v)
	}

	if s := q.Get("limit"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: failed to parse limit", errInvalidRequest)
		}

		limit = uint32(v)
	}

	return page, limit, nil
}

func extractPostParamsFromForm(w http.ResponseWriter, r *http.Request) (*service.UpdatePostParams, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := r.ParseMultipartForm(maxBodySize); err != nil {
		return nil, fmt.Errorf("%w: failed to parse form", errInvalidRequest)
	}

	out := service.UpdatePostParams{
		Title:    r.FormValue("title"),
		Content:  r.FormValue("content"),
		Category: r.FormValue("category"),
	}

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		out.Image = &service.ImageUpload{
			Content:     file,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		}
	case errors.Is(err, http.ErrMissingFile):
		// image is optional here, the service decides whether it is required
	default:
		return nil, fmt.Errorf("%w: failed to read image", errInvalidRequest)
	}

	return &out, nil
}
