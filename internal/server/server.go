// Package server Agora
//
// Agora is a blog-with-voting service: users register, publish posts with an
// image and cast at most one vote per post.
package server

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"

	"github.com/agora-blog/agora/internal/auth"
	mm "github.com/agora-blog/agora/internal/middleware"
	"github.com/agora-blog/agora/internal/service"
)

// multipart uploads carry an image, the original limit is 5MB plus form overhead
const maxBodySize = 6 << 20

type server struct {
	s     service.Service
	cache *mm.Cache
}

// SetupRouter setups handlers to chi router.
func SetupRouter(svc service.Service, signer *auth.Signer, cache *mm.Cache, r chi.Router, timeout, cacheTTL time.Duration) {
	r.Use(
		mm.Logger,
		middleware.StripSlashes,
		cors.AllowAll().Handler,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
	)

	srv := server{
		s:     svc,
		cache: cache,
	}

	r.Post("/auth/register", srv.register)
	r.Post("/auth/login", srv.login)

	r.Get("/posts", cache.Wrap(cacheTTL, srv.listPosts))
	r.Get("/posts/{id}", cache.Wrap(cacheTTL, srv.getPost))

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(signer))

		// per-user listings bypass the shared response cache
		r.Get("/posts/mine", srv.listMyPosts)
		r.Get("/posts/voted", srv.listVotedPosts)

		r.Post("/posts", srv.createPost)
		r.Put("/posts/{id}", srv.updatePost)
		r.Delete("/posts/{id}", srv.deletePost)
		r.Post("/posts/{id}/vote", srv.vote)
	})
}
