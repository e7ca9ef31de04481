package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"storybook/internal/domain"
	"storybook/internal/jobs"
)

type fakeRunner struct {
	mu      sync.Mutex
	started []domain.BookRequest
	jobIDs  []string
	done    chan struct{}

	idea    *domain.StoryIdea
	ideaErr error
	locale  string
}

func (f *fakeRunner) Run(ctx context.Context, jobID string, req domain.BookRequest) {
	f.mu.Lock()
	f.started = append(f.started, req)
	f.jobIDs = append(f.jobIDs, jobID)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
}

func (f *fakeRunner) StoryIdea(ctx context.Context, locale string) (*domain.StoryIdea, error) {
	f.locale = locale
	return f.idea, f.ideaErr
}

func newTestApp(runner Runner) *App {
	return NewApp(zerolog.Nop(), jobs.NewRegistry(), runner)
}

func TestGenerateBookStartsJob(t *testing.T) {
	runner := &fakeRunner{done: make(chan struct{})}
	app := newTestApp(runner)

	body := `{"title":"The Fox","story":"A fox explores.","numImages":3,"artStyle":"watercolor","characters":[{"name":"Fox"}]}`
	req := httptest.NewRequest("POST", "/v1/books", strings.NewReader(body))
	rr := httptest.NewRecorder()

	app.GenerateBook(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	var resp jobStartedResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.Status != "started" {
		t.Fatalf("response = %+v", resp)
	}

	job, err := app.Registry.Get(resp.JobID)
	if err != nil {
		t.Fatalf("job not registered: %v", err)
	}
	if job.Status != domain.JobStatusStarted {
		t.Fatalf("job status = %q", job.Status)
	}

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("runner was never invoked")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.jobIDs[0] != resp.JobID {
		t.Fatalf("runner job id = %q, want %q", runner.jobIDs[0], resp.JobID)
	}
	got := runner.started[0]
	if got.NumImages != 3 || len(got.Characters) != 1 || got.Characters[0].Name != "Fox" {
		t.Fatalf("runner request = %+v", got)
	}
}

func TestGenerateBookValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing title", `{"numImages":3,"characters":[]}`},
		{"missing numImages", `{"title":"A","characters":[]}`},
		{"negative numImages", `{"title":"A","numImages":-1,"characters":[]}`},
		{"excessive numImages", `{"title":"A","numImages":99,"characters":[]}`},
		{"missing characters", `{"title":"A","numImages":1}`},
		{"null characters", `{"title":"A","numImages":1,"characters":null}`},
		{"characters not an array", `{"title":"A","numImages":1,"characters":{"name":"Fox"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{}
			app := newTestApp(runner)
			req := httptest.NewRequest("POST", "/v1/books", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()

			app.GenerateBook(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
			runner.mu.Lock()
			defer runner.mu.Unlock()
			if len(runner.started) != 0 {
				t.Fatal("runner invoked despite invalid payload")
			}
		})
	}
}

func TestGenerateBookAcceptsEmptyCharacterList(t *testing.T) {
	runner := &fakeRunner{done: make(chan struct{})}
	app := newTestApp(runner)

	body := `{"title":"Covers Only","numImages":0,"characters":[]}`
	req := httptest.NewRequest("POST", "/v1/books", strings.NewReader(body))
	rr := httptest.NewRecorder()

	app.GenerateBook(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("runner was never invoked")
	}
}

func TestGenerateBookRequestValidateSentinel(t *testing.T) {
	err := generateBookRequest{Title: "A"}.validate()
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("validate error = %v, want ErrInvalidRequest", err)
	}
}

func TestBookStatusReturnsJob(t *testing.T) {
	app := newTestApp(&fakeRunner{})
	app.Registry.Create("job-1", "The Fox")
	app.Registry.Update("job-1", jobs.Update{Progress: jobs.Int(40), CurrentPhase: jobs.String("Illustrating pages 1-3 of 5")})

	rr := statusRequest(app, "job-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var job domain.Job
	if err := json.NewDecoder(rr.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.ID != "job-1" || job.Progress != 40 {
		t.Fatalf("job = %+v", job)
	}
	if job.CurrentPhase != "Illustrating pages 1-3 of 5" {
		t.Fatalf("CurrentPhase = %q", job.CurrentPhase)
	}
}

func TestBookStatusUnknownJob(t *testing.T) {
	rr := statusRequest(newTestApp(&fakeRunner{}), "nope")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func statusRequest(app *App, jobID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/v1/books/"+jobID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("job_id", jobID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	app.BookStatus(rr, req)
	return rr
}
