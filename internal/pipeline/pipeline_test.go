package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storybook/internal/domain"
	"storybook/internal/jobs"
	"storybook/internal/providers/openai"
)

type fakeAI struct {
	completeText  func(ctx context.Context, messages []openai.Message, model string) (string, error)
	generateImage func(ctx context.Context, prompt, size string) ([]byte, error)
}

func (f *fakeAI) CompleteText(ctx context.Context, messages []openai.Message, model string) (string, error) {
	if f.completeText != nil {
		return f.completeText(ctx, messages, model)
	}
	return "", errors.New("completeText not implemented")
}

func (f *fakeAI) GenerateImage(ctx context.Context, prompt, size string) ([]byte, error) {
	if f.generateImage != nil {
		return f.generateImage(ctx, prompt, size)
	}
	return nil, errors.New("generateImage not implemented")
}

func pngFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 160, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func planResponse(numScenes int) string {
	var sb strings.Builder
	sb.WriteString(`{"title":"Test","images":[{"page":0,"title":"Front Cover","scene":"cover art"}`)
	for i := 1; i <= numScenes; i++ {
		fmt.Fprintf(&sb, `,{"page":%d,"title":"Scene %d","scene":"scene %d"}`, i, i, i)
	}
	fmt.Fprintf(&sb, `,{"page":%d,"title":"Back Cover","scene":"closing art"}]}`, numScenes+1)
	return sb.String()
}

func newTestPipeline(ai AIClient) (*Pipeline, *jobs.Registry) {
	registry := jobs.NewRegistry()
	p := New(ai, registry, nil, zerolog.Nop(), Config{})
	return p, registry
}

func TestRunCompletesWithInlineResult(t *testing.T) {
	fixture := pngFixture(t)
	var textCalls atomic.Int32
	ai := &fakeAI{
		completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
			switch textCalls.Add(1) {
			case 1:
				return "Alex is a curious kid with a yellow raincoat.", nil
			default:
				return planResponse(1), nil
			}
		},
		generateImage: func(ctx context.Context, prompt, size string) ([]byte, error) {
			return fixture, nil
		},
	}
	p, registry := newTestPipeline(ai)

	registry.Create("job-1", "Test")
	p.Run(context.Background(), "job-1", domain.BookRequest{
		Title:      "Test",
		NumImages:  1,
		Characters: []domain.Character{{Name: "Alex"}},
	})

	job, err := registry.Get("job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %q, error = %q", job.Status, job.Error)
	}
	if job.Result == nil {
		t.Fatal("Result missing")
	}
	if job.Result.Pages != 3 {
		t.Fatalf("Pages = %d, want 3", job.Result.Pages)
	}
	if !strings.HasPrefix(job.Result.Data, "data:application/pdf;base64,") {
		t.Fatalf("Data prefix = %.40q", job.Result.Data)
	}
	if job.Progress != 100 {
		t.Fatalf("Progress = %d, want 100", job.Progress)
	}
	// One analysis call for Alex plus one plan call.
	if got := textCalls.Load(); got != 2 {
		t.Fatalf("text calls = %d, want 2", got)
	}
}

func TestRunNoCharactersSkipsAnalysis(t *testing.T) {
	fixture := pngFixture(t)
	var textCalls atomic.Int32
	ai := &fakeAI{
		completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
			textCalls.Add(1)
			return planResponse(0), nil
		},
		generateImage: func(ctx context.Context, prompt, size string) ([]byte, error) {
			return fixture, nil
		},
	}
	p, registry := newTestPipeline(ai)

	registry.Create("job-1", "Covers Only")
	p.Run(context.Background(), "job-1", domain.BookRequest{Title: "Covers Only", NumImages: 0})

	job, err := registry.Get("job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %q, error = %q", job.Status, job.Error)
	}
	if job.Result.Pages != 2 {
		t.Fatalf("Pages = %d, want 2 (front and back cover)", job.Result.Pages)
	}
	// Only the plan call; nothing to analyze.
	if got := textCalls.Load(); got != 1 {
		t.Fatalf("text calls = %d, want 1", got)
	}
}

func TestRunCharacterAnalysisFailureFallsBack(t *testing.T) {
	fixture := pngFixture(t)
	var planPrompt string
	var textCalls atomic.Int32
	ai := &fakeAI{
		completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
			if textCalls.Add(1) == 1 {
				return "", errors.New("provider exploded")
			}
			planPrompt = fmt.Sprint(messages[len(messages)-1].Content)
			return planResponse(1), nil
		},
		generateImage: func(ctx context.Context, prompt, size string) ([]byte, error) {
			return fixture, nil
		},
	}
	p, registry := newTestPipeline(ai)

	registry.Create("job-1", "Test")
	p.Run(context.Background(), "job-1", domain.BookRequest{
		Title:      "Test",
		NumImages:  1,
		Characters: []domain.Character{{Name: "Mira", Role: "hero", Description: "loves maps"}},
	})

	job, _ := registry.Get("job-1")
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %q, error = %q", job.Status, job.Error)
	}
	if !strings.Contains(planPrompt, "Mira") || !strings.Contains(planPrompt, "loves maps") {
		t.Fatalf("plan prompt missing fallback description:\n%s", planPrompt)
	}
}

func TestRunPlanParseFailureFailsJob(t *testing.T) {
	ai := &fakeAI{
		completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
			return "I would love to help but cannot produce JSON today.", nil
		},
	}
	p, registry := newTestPipeline(ai)

	registry.Create("job-1", "Test")
	p.Run(context.Background(), "job-1", domain.BookRequest{Title: "Test", NumImages: 1})

	job, _ := registry.Get("job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("Status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "plan generation") {
		t.Fatalf("Error = %q", job.Error)
	}
	if job.EndTime == nil {
		t.Fatal("EndTime not stamped on failure")
	}
}

func TestRunSingleImageFailureFailsJob(t *testing.T) {
	fixture := pngFixture(t)
	var imageCalls atomic.Int32
	ai := &fakeAI{
		completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
			return planResponse(2), nil
		},
		generateImage: func(ctx context.Context, prompt, size string) ([]byte, error) {
			if imageCalls.Add(1) == 2 {
				return nil, errors.New("safety rejection")
			}
			return fixture, nil
		},
	}
	p, registry := newTestPipeline(ai)

	registry.Create("job-1", "Test")
	p.Run(context.Background(), "job-1", domain.BookRequest{Title: "Test", NumImages: 2})

	job, _ := registry.Get("job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("Status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "safety rejection") {
		t.Fatalf("Error = %q", job.Error)
	}
}

func TestRunAdaptsTotalStepsToPlanLength(t *testing.T) {
	fixture := pngFixture(t)
	ai := &fakeAI{
		completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
			// Five images despite a request expecting three.
			return planResponse(3), nil
		},
		generateImage: func(ctx context.Context, prompt, size string) ([]byte, error) {
			return fixture, nil
		},
	}
	p, registry := newTestPipeline(ai)

	registry.Create("job-1", "Test")
	p.Run(context.Background(), "job-1", domain.BookRequest{Title: "Test", NumImages: 1})

	job, _ := registry.Get("job-1")
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %q, error = %q", job.Status, job.Error)
	}
	if job.Result.Pages != 5 {
		t.Fatalf("Pages = %d, want 5 (plan is authoritative)", job.Result.Pages)
	}
	// plan step + 5 images + packaging
	if job.TotalSteps != 7 {
		t.Fatalf("TotalSteps = %d, want 7", job.TotalSteps)
	}
}

func TestGenerateImagesPreservesPlanOrder(t *testing.T) {
	const n = 8
	specs := make([]domain.ImageSpec, n)
	for i := range specs {
		specs[i] = domain.ImageSpec{Page: i, Scene: fmt.Sprintf("scene-%02d", i)}
	}

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	ai := &fakeAI{
		generateImage: func(ctx context.Context, prompt, size string) ([]byte, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			// Later submissions finish first within a batch.
			idx := 0
			fmt.Sscanf(prompt[strings.Index(prompt, "scene-"):], "scene-%02d", &idx)
			time.Sleep(time.Duration(10-idx%3*3) * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return []byte(fmt.Sprintf("scene-%02d", idx)), nil
		},
	}
	p, registry := newTestPipeline(ai)
	registry.Create("job-1", "Test")

	t2 := &tracker{registry: registry, id: "job-1"}
	t2.setTotal(n)
	images, err := p.generateImages(context.Background(), t2, specs, nil, "")
	if err != nil {
		t.Fatalf("generateImages returned error: %v", err)
	}
	if len(images) != n {
		t.Fatalf("len = %d, want %d", len(images), n)
	}
	for i, img := range images {
		want := fmt.Sprintf("scene-%02d", i)
		if string(img) != want {
			t.Fatalf("images[%d] = %q, want %q", i, img, want)
		}
	}
	if maxInFlight > 3 {
		t.Fatalf("max concurrent image calls = %d, want <= 3", maxInFlight)
	}
}

func TestStoryIdeaClampsNumImages(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want int
	}{
		{`{"title":"A","story":"B","numImages":42}`, 10},
		{`{"title":"A","story":"B","numImages":0}`, 1},
		{`{"title":"A","story":"B","numImages":-3}`, 1},
		{`{"title":"A","story":"B","numImages":4}`, 4},
	} {
		ai := &fakeAI{
			completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
				return tc.raw, nil
			},
		}
		p, _ := newTestPipeline(ai)
		idea, err := p.StoryIdea(context.Background(), "en")
		if err != nil {
			t.Fatalf("StoryIdea returned error: %v", err)
		}
		if idea.NumImages != tc.want {
			t.Fatalf("NumImages = %d, want %d (raw %s)", idea.NumImages, tc.want, tc.raw)
		}
	}
}

func TestStoryIdeaPropagatesProviderError(t *testing.T) {
	ai := &fakeAI{
		completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
			return "", errors.New("boom")
		},
	}
	p, _ := newTestPipeline(ai)
	_, err := p.StoryIdea(context.Background(), "en")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure in chain", err)
	}
}

func TestGeneratePlanWrapsProviderFailure(t *testing.T) {
	ai := &fakeAI{
		completeText: func(ctx context.Context, messages []openai.Message, model string) (string, error) {
			return "", errors.New("upstream busy")
		},
	}
	p, _ := newTestPipeline(ai)
	_, err := p.generatePlan(context.Background(), domain.BookRequest{Title: "Test", NumImages: 1}, nil)
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure in chain", err)
	}
	if !strings.Contains(err.Error(), "upstream busy") {
		t.Fatalf("error %q lost the provider message", err)
	}
}
