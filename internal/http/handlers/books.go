package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storybook/internal/domain"
	"storybook/internal/middleware"
)

// generateBookRequest mirrors domain.BookRequest but keeps NumImages a
// pointer and Characters raw so missing fields can be told apart from
// zero values.
type generateBookRequest struct {
	Title      string          `json:"title"`
	Story      string          `json:"story"`
	NumImages  *int            `json:"numImages"`
	ArtStyle   string          `json:"artStyle"`
	Characters json.RawMessage `json:"characters"`
}

type jobStartedResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

const maxBookImages = 10

func (r generateBookRequest) validate() error {
	if r.Title == "" {
		return fmt.Errorf("%w: title required", domain.ErrInvalidRequest)
	}
	if r.NumImages == nil {
		return fmt.Errorf("%w: numImages required", domain.ErrInvalidRequest)
	}
	if *r.NumImages < 0 || *r.NumImages > maxBookImages {
		return fmt.Errorf("%w: numImages out of range", domain.ErrInvalidRequest)
	}
	// Absent and JSON null both fail; an empty array is a valid book with
	// covers only.
	if len(r.Characters) == 0 || string(r.Characters) == "null" {
		return fmt.Errorf("%w: characters must be an array", domain.ErrInvalidRequest)
	}
	return nil
}

func (a *App) GenerateBook(w http.ResponseWriter, r *http.Request) {
	var req generateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := req.validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var characters []domain.Character
	if err := json.Unmarshal(req.Characters, &characters); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "characters must be an array")
		return
	}

	jobID := uuid.NewString()
	a.Registry.Create(jobID, req.Title)

	book := domain.BookRequest{
		Title:      req.Title,
		Story:      req.Story,
		NumImages:  *req.NumImages,
		ArtStyle:   req.ArtStyle,
		Characters: characters,
		Locale:     middleware.LocaleFromContext(r.Context()),
	}
	// Detached from the request context; the job outlives the response.
	go a.Runner.Run(context.Background(), jobID, book)

	a.json(w, http.StatusAccepted, jobStartedResponse{JobID: jobID, Status: string(domain.JobStatusStarted)})
}

func (a *App) BookStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Registry.Get(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, job)
}
