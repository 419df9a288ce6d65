package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type Response struct {
	StatusCode    int   `json:"statusCode"`
	RespStartTime int64 `json:"respStartTime"`
	RespEndTime   int64 `json:"respEndTime"`
	NetRespTime   int64 `json:"netRespTime"`
	Data          any   `json:"data"`
}

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.HealthHandler).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/round", s.CurrentRoundHandler).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/ws", s.engine.HandleWebSocket)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// If it's a websocket upgrade, skip further CORS checks
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.engine.Running(),
	})
}

func (s *Server) CurrentRoundHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	round := s.engine.CurrentRound()

	resp := Response{
		StatusCode:    http.StatusOK,
		RespStartTime: startTime,
		Data:          round,
	}
	if round.ID == 0 {
		resp.StatusCode = http.StatusNotFound
		resp.Data = "No round has been played yet"
	}

	endTime := time.Now().UnixMilli()
	resp.RespEndTime = endTime
	resp.NetRespTime = endTime - startTime

	writeJSON(w, resp.StatusCode, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
