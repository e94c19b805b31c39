package http

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/gin-gonic/gin"
)

// Server wraps the engine in a net/http server the caller can drain. Open
// SSE streams do not count as idle, so Shutdown waits for them up to its
// context deadline and then closes them.
type Server struct {
	Engine *gin.Engine

	srv *nethttp.Server
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

// Run serves address until Shutdown. A shutdown-initiated exit reports nil.
func (s *Server) Run(address string) error {
	s.srv = &nethttp.Server{Addr: address, Handler: s.Engine}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
