package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/jobs"
)

// Runner executes generation work. Run is expected to return immediately
// once the job is underway; StoryIdea is synchronous.
type Runner interface {
	Run(ctx context.Context, jobID string, req domain.BookRequest)
	StoryIdea(ctx context.Context, locale string) (*domain.StoryIdea, error)
}

type App struct {
	Logger   infra.Logger
	Registry *jobs.Registry
	Runner   Runner
}

func NewApp(logger infra.Logger, registry *jobs.Registry, runner Runner) *App {
	return &App{Logger: logger, Registry: registry, Runner: runner}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}
