// Package pipeline sequences one book-generation job: character analysis,
// plan generation, batch image generation, PDF assembly and result
// packaging, reporting progress into the job registry throughout.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"storybook/internal/board"
	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/jobs"
	"storybook/internal/pdf"
	"storybook/internal/providers/openai"
	"storybook/internal/storage"
)

// AIClient is the slice of the provider client the pipeline depends on.
type AIClient interface {
	CompleteText(ctx context.Context, messages []openai.Message, model string) (string, error)
	GenerateImage(ctx context.Context, prompt, size string) ([]byte, error)
}

// Config tunes pipeline behavior. Zero values fall back to defaults.
type Config struct {
	TextModel   string
	VisionModel string
	ImageSize   string
	// MaxCharacters caps how many characters get an analysis call.
	MaxCharacters int
	// AnalysisBudget caps the wall-clock time of the analysis phase;
	// characters not reached in time are skipped, not failed.
	AnalysisBudget time.Duration
	// BatchSize is how many image calls run concurrently. Each batch
	// completes fully before the next starts.
	BatchSize int
	// MaxIdeaImages clamps the numImages suggested by the story-idea call.
	MaxIdeaImages int
}

func (c Config) withDefaults() Config {
	if c.ImageSize == "" {
		c.ImageSize = "1024x1024"
	}
	if c.MaxCharacters <= 0 {
		c.MaxCharacters = 5
	}
	if c.AnalysisBudget <= 0 {
		c.AnalysisBudget = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.MaxIdeaImages <= 0 {
		c.MaxIdeaImages = 10
	}
	return c
}

// Pipeline executes generation jobs. Runs are detached from the originating
// request; all observable state flows through the registry.
type Pipeline struct {
	ai       AIClient
	registry *jobs.Registry
	store    *storage.FileStore
	logger   infra.Logger
	cfg      Config
}

// New wires a pipeline. store may be nil, in which case finished documents
// are inlined into the job result instead of being uploaded.
func New(ai AIClient, registry *jobs.Registry, store *storage.FileStore, logger infra.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		ai:       ai,
		registry: registry,
		store:    store,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Run executes the whole pipeline for an already-created job. Any error or
// panic marks the job failed; the serving process never goes down with it.
func (p *Pipeline) Run(ctx context.Context, jobID string, req domain.BookRequest) {
	logger := p.logger.With().Str("job_id", jobID).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("pipeline: recovered panic")
			p.registry.Fail(jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	started := time.Now()
	if err := p.run(ctx, logger, jobID, req); err != nil {
		logger.Error().Err(err).Msg("pipeline: job failed")
		p.registry.Fail(jobID, err.Error())
		return
	}
	logger.Info().Dur("elapsed", time.Since(started)).Msg("pipeline: job completed")
}

func (p *Pipeline) run(ctx context.Context, logger infra.Logger, jobID string, req domain.BookRequest) error {
	candidates := analyzableCharacters(req.Characters, p.cfg.MaxCharacters)
	expectedImages := req.NumImages + 2 // front cover + scenes + back cover

	// One step per analyzed character, one for the plan, one per image, one
	// for assembly and packaging.
	t := &tracker{registry: p.registry, id: jobID}
	t.setTotal(len(candidates) + 1 + expectedImages + 1)

	bibles := p.analyzeCharacters(ctx, logger, t, candidates)
	p.composeBoard(ctx, logger, jobID, req.Characters)

	t.phase("Planning the story")
	plan, err := p.generatePlan(ctx, req, bibles)
	if err != nil {
		return err
	}
	t.step(1)
	if len(plan.Images) != expectedImages {
		// The plan is authoritative; adapt the step count rather than
		// truncating or padding.
		logger.Warn().Int("planned", len(plan.Images)).Int("expected", expectedImages).Msg("pipeline: plan size differs from request")
		t.setTotal(len(candidates) + 1 + len(plan.Images) + 1)
	}

	images, err := p.generateImages(ctx, t, plan.Images, bibles, req.ArtStyle)
	if err != nil {
		return err
	}

	t.phase("Assembling the book")
	document, err := pdf.Assemble(images)
	if err != nil {
		return err
	}

	t.phase("Packaging the result")
	result, err := p.packageResult(ctx, jobID, req.Title, document, len(images))
	if err != nil {
		return err
	}
	t.step(1)
	p.registry.Complete(jobID, result)
	return nil
}

// analyzeCharacters builds a "character bible" per character that carries
// any descriptive detail. Failures degrade to a deterministic fallback
// description; running out of the phase budget skips the remainder.
func (p *Pipeline) analyzeCharacters(ctx context.Context, logger infra.Logger, t *tracker, candidates []domain.Character) map[string]string {
	bibles := make(map[string]string, len(candidates))
	if len(candidates) == 0 {
		return bibles
	}

	phaseCtx, cancel := context.WithTimeout(ctx, p.cfg.AnalysisBudget)
	defer cancel()

	for _, c := range candidates {
		if phaseCtx.Err() != nil {
			logger.Warn().Str("character", c.Name).Msg("pipeline: analysis budget exhausted, skipping remaining characters")
			break
		}
		t.phase(fmt.Sprintf("Studying character %s", coalesce(c.Name, "?")))

		prompt := buildCharacterAnalysisPrompt(c)
		var messages []openai.Message
		model := p.cfg.TextModel
		if c.Image != "" {
			messages = []openai.Message{
				openai.Text("system", characterAnalysisSystemPrompt),
				openai.Vision("user", prompt, c.Image),
			}
			model = p.cfg.VisionModel
		} else {
			messages = []openai.Message{
				openai.Text("system", characterAnalysisSystemPrompt),
				openai.Text("user", prompt),
			}
		}

		bible, err := p.ai.CompleteText(phaseCtx, messages, model)
		if err != nil {
			logger.Warn().Err(err).Str("character", c.Name).Msg("pipeline: character analysis failed, using fallback")
			bible = fallbackBible(c)
		}
		bibles[c.Name] = bible
		t.step(1)
	}
	return bibles
}

// composeBoard tiles the uploaded reference images into a contact sheet and
// stores it next to the artifact. Purely auxiliary; failures only log.
func (p *Pipeline) composeBoard(ctx context.Context, logger infra.Logger, jobID string, characters []domain.Character) {
	if p.store == nil {
		return
	}
	var refs [][]byte
	for _, c := range characters {
		if data := dataURLPayload(c.Image); data != nil {
			refs = append(refs, data)
		}
	}
	sheet := board.Compose(refs)
	if sheet == nil {
		return
	}
	key := fmt.Sprintf("books/%s/character-board.png", jobID)
	if _, err := p.store.Write(ctx, key, sheet); err != nil {
		logger.Warn().Err(err).Msg("pipeline: persist character board failed")
	}
}

func (p *Pipeline) generatePlan(ctx context.Context, req domain.BookRequest, bibles map[string]string) (*domain.BookPlan, error) {
	text, err := p.ai.CompleteText(ctx, []openai.Message{
		openai.Text("system", planSystemPrompt),
		openai.Text("user", buildPlanPrompt(req, bibles)),
	}, p.cfg.TextModel)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w: %v", domain.ErrProviderFailure, err)
	}
	plan, err := parsePayload[domain.BookPlan](text)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}
	if len(plan.Images) == 0 {
		return nil, fmt.Errorf("plan generation: %w: plan contains no images", domain.ErrPlanMalformed)
	}
	return &plan, nil
}

// generateImages submits image calls in batches of cfg.BatchSize. Within a
// batch calls run concurrently and a single failure fails the job (retry
// already happened inside the client); across batches execution is strictly
// sequential. Results land in plan order regardless of completion order.
func (p *Pipeline) generateImages(ctx context.Context, t *tracker, specs []domain.ImageSpec, bibles map[string]string, artStyle string) ([][]byte, error) {
	results := make([][]byte, len(specs))
	for start := 0; start < len(specs); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(specs) {
			end = len(specs)
		}
		t.phase(fmt.Sprintf("Illustrating pages %d-%d of %d", start+1, end, len(specs)))

		eg, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			eg.Go(func() error {
				data, err := p.ai.GenerateImage(gctx, buildImagePrompt(specs[i], bibles, artStyle), p.cfg.ImageSize)
				if err != nil {
					return fmt.Errorf("image %d of %d: %w: %v", i+1, len(specs), domain.ErrProviderFailure, err)
				}
				results[i] = data
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		t.step(end - start)
	}
	return results, nil
}

func (p *Pipeline) packageResult(ctx context.Context, jobID, title string, document []byte, pages int) (*domain.JobResult, error) {
	filename := slugify(title) + ".pdf"
	if p.store != nil {
		key := fmt.Sprintf("books/%s/%s", jobID, filename)
		saved, err := p.store.Write(ctx, key, document)
		if err != nil {
			return nil, fmt.Errorf("store artifact: %w", err)
		}
		return &domain.JobResult{
			URL:      p.store.PublicURL(saved),
			Filename: filename,
			Pages:    pages,
		}, nil
	}
	return &domain.JobResult{
		Data:     "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(document),
		Filename: filename,
		Pages:    pages,
	}, nil
}

// StoryIdea asks the model for a fresh book idea. Unlike Run this is
// synchronous; callers surface failures directly.
func (p *Pipeline) StoryIdea(ctx context.Context, locale string) (*domain.StoryIdea, error) {
	text, err := p.ai.CompleteText(ctx, []openai.Message{
		openai.Text("system", storyIdeaSystemPrompt),
		openai.Text("user", buildStoryIdeaPrompt(locale)),
	}, p.cfg.TextModel)
	if err != nil {
		return nil, fmt.Errorf("story idea: %w: %v", domain.ErrProviderFailure, err)
	}
	idea, err := parsePayload[domain.StoryIdea](text)
	if err != nil {
		return nil, fmt.Errorf("story idea: %w", err)
	}
	// Whatever the model suggested, keep the image count inside the range
	// the generate endpoint accepts.
	if idea.NumImages < 1 {
		idea.NumImages = 1
	}
	if idea.NumImages > p.cfg.MaxIdeaImages {
		idea.NumImages = p.cfg.MaxIdeaImages
	}
	return &idea, nil
}

// tracker pushes phase and progress updates into the registry.
type tracker struct {
	registry  *jobs.Registry
	id        string
	total     int
	completed int
}

func (t *tracker) setTotal(n int) {
	t.total = n
	t.registry.Update(t.id, jobs.Update{TotalSteps: jobs.Int(n), Progress: jobs.Int(t.progress())})
}

func (t *tracker) phase(msg string) {
	t.registry.Update(t.id, jobs.Update{CurrentPhase: jobs.String(msg)})
}

func (t *tracker) step(n int) {
	t.completed += n
	t.registry.Update(t.id, jobs.Update{
		CompletedSteps: jobs.Int(t.completed),
		Progress:       jobs.Int(t.progress()),
	})
}

func (t *tracker) progress() int {
	if t.total <= 0 {
		return 0
	}
	pct := t.completed * 100 / t.total
	if pct > 100 {
		pct = 100
	}
	return pct
}

func analyzableCharacters(characters []domain.Character, limit int) []domain.Character {
	var out []domain.Character
	for _, c := range characters {
		if !c.HasDetail() {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// dataURLPayload decodes the base64 payload of a data URL, or returns nil
// for anything else.
func dataURLPayload(s string) []byte {
	if !strings.HasPrefix(s, "data:") {
		return nil
	}
	idx := strings.Index(s, ",")
	if idx < 0 {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(s[idx+1:])
	if err != nil {
		return nil
	}
	return data
}

func slugify(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	var sb strings.Builder
	lastDash := true
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = "storybook"
	}
	return slug
}
