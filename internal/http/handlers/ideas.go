package handlers

import (
	"net/http"

	"storybook/internal/middleware"
)

func (a *App) StoryIdea(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	idea, err := a.Runner.StoryIdea(r.Context(), locale)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: story idea failed")
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	a.json(w, http.StatusOK, idea)
}
