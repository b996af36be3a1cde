package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/betbot/copybot/internal/copier"
	"github.com/betbot/copybot/internal/session"
	"github.com/betbot/copybot/internal/store"
	"github.com/betbot/copybot/pkg/secretstore"
)

// Server is the operator-facing control plane: follower lifecycle,
// credential management, and the ingest endpoints that feed master
// orders and settlements into the replication pipeline.
type Server struct {
	store      *store.Store
	secrets    *secretstore.Store
	tracker    *session.Tracker
	engine     *copier.Engine
	reconciler *copier.Reconciler
}

func New(st *store.Store, secrets *secretstore.Store, tracker *session.Tracker, engine *copier.Engine, reconciler *copier.Reconciler) *Server {
	return &Server{
		store:      st,
		secrets:    secrets,
		tracker:    tracker,
		engine:     engine,
		reconciler: reconciler,
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	api := r.Group("/api")

	followers := api.Group("/followers/:followerID")
	followers.POST("/activate", s.wrap(s.handleActivate))
	followers.POST("/pause", s.wrap(s.handlePause))
	followers.POST("/resume", s.wrap(s.handleResume))
	followers.POST("/deactivate", s.wrap(s.handleDeactivate))
	followers.GET("/session", s.wrap(s.handleGetSession))
	followers.PUT("/token", s.wrap(s.handleSetToken))
	followers.DELETE("/token", s.wrap(s.handleDeleteToken))
	followers.PUT("/balance", s.wrap(s.handleSetBalance))

	masters := api.Group("/masters")
	masters.GET("/:masterID/copiers", s.wrap(s.handleGetCopiers))
	masters.POST("/:masterID/aliases", s.wrap(s.handleAddAlias))
	masters.POST("/orders", s.wrap(s.handleMasterOrder))
	masters.POST("/settlements", s.wrap(s.handleMasterSettlement))

	return r
}
