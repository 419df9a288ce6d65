package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/scythe504/roulette-backend/internal/game"
)

type Server struct {
	port   int
	engine *game.Engine
}

func NewServer(port int, engine *game.Engine) *http.Server {
	s := &Server{
		port:   port,
		engine: engine,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
