package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"comicforge/internal/domain"
)

// App carries the dependencies shared by all HTTP handlers.
type App struct {
	Jobs        domain.JobRepository
	StageNames  []string
	StoragePath string
	Logger      zerolog.Logger
}

func NewApp(jobs domain.JobRepository, stageNames []string, storagePath string, logger zerolog.Logger) *App {
	return &App{
		Jobs:        jobs,
		StageNames:  stageNames,
		StoragePath: storagePath,
		Logger:      logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// currentOwnerID identifies the caller. Authentication lives in front of
// this service; the gateway forwards the resolved owner in a header.
func (a *App) currentOwnerID(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get("X-Owner-ID")); owner != "" {
		return owner
	}
	return "anonymous"
}

func (a *App) stageName(index int) string {
	if index >= 0 && index < len(a.StageNames) {
		return a.StageNames[index]
	}
	return ""
}
