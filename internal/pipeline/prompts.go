package pipeline

import (
	"fmt"
	"strings"

	"storybook/internal/domain"
)

const characterAnalysisSystemPrompt = "You are a character designer for illustrated children's books. Given a character's raw details (and a reference photo when provided), write a detailed visual description that an illustrator can reproduce consistently across many pictures: face, hair, build, clothing, colors, distinguishing marks. Respond with the description only, no preamble."

const planSystemPrompt = `You are a picture-book art director. Plan the illustrations for a book as a JSON object with this exact shape:
{"title":string,"images":[{"page":number,"title":string,"scene":string,"characters":[string],"environment":string,"lighting":string,"palette":string,"composition":string}]}
The list must start with a front cover, end with a back cover, and contain the requested number of story scenes in between. Respond with JSON only.`

const storyIdeaSystemPrompt = `You invent ideas for illustrated children's books. Respond strictly as JSON: {"title":string,"story":string,"numImages":number}. The story is a short outline of three to five sentences; numImages is how many illustrated scenes it needs.`

// negativeConstraints is appended to every image prompt. The image model
// tends to render captions and collages unless told not to.
const negativeConstraints = "Strictly no text, letters, words, captions or typography anywhere in the image. One single scene only, never a montage, grid or multi-panel layout."

// coverConstraint keeps cover pages from rendering as photos of a physical
// book instead of full-bleed artwork.
const coverConstraint = "Render the artwork itself edge to edge, not a mockup or photograph of a printed book."

func buildCharacterAnalysisPrompt(c domain.Character) string {
	sb := &strings.Builder{}
	sb.WriteString("Describe this character for consistent illustration.")
	if v := strings.TrimSpace(c.Name); v != "" {
		fmt.Fprintf(sb, " Name: %s.", v)
	}
	if v := strings.TrimSpace(c.Age); v != "" {
		fmt.Fprintf(sb, " Age: %s.", v)
	}
	if v := strings.TrimSpace(c.Role); v != "" {
		fmt.Fprintf(sb, " Role in the story: %s.", v)
	}
	if v := strings.TrimSpace(c.Description); v != "" {
		fmt.Fprintf(sb, " Details: %s.", v)
	}
	if c.Image != "" {
		sb.WriteString(" A reference photo is attached; ground the description in it.")
	}
	return sb.String()
}

// fallbackBible builds a deterministic description from the raw fields when
// the analysis call fails. The job continues with this instead of aborting.
func fallbackBible(c domain.Character) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "%s", coalesce(c.Name, "An unnamed character"))
	if v := strings.TrimSpace(c.Age); v != "" {
		fmt.Fprintf(sb, ", age %s", v)
	}
	if v := strings.TrimSpace(c.Role); v != "" {
		fmt.Fprintf(sb, ", the %s of the story", v)
	}
	sb.WriteString(".")
	if v := strings.TrimSpace(c.Description); v != "" {
		fmt.Fprintf(sb, " %s.", v)
	}
	sb.WriteString(" Keep the same appearance in every illustration.")
	return sb.String()
}

func buildPlanPrompt(req domain.BookRequest, bibles map[string]string) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Plan the illustrations for %q: one front cover, %d story scenes, one back cover, in reading order with page numbers starting at 0 for the front cover.", req.Title, req.NumImages)
	if v := strings.TrimSpace(req.Story); v != "" {
		fmt.Fprintf(sb, " Story outline: %s", v)
	}
	if v := strings.TrimSpace(req.ArtStyle); v != "" {
		fmt.Fprintf(sb, " Art style: %s.", v)
	}
	if req.Locale != "" {
		fmt.Fprintf(sb, " Titles and scene text use locale %q.", req.Locale)
	}
	for _, c := range req.Characters {
		name := coalesce(c.Name, "unnamed")
		if bible, ok := bibles[c.Name]; ok {
			fmt.Fprintf(sb, "\nCharacter %s: %s", name, bible)
		} else if c.HasDetail() {
			fmt.Fprintf(sb, "\nCharacter %s: age=%s role=%s %s", name, c.Age, c.Role, c.Description)
		}
	}
	return sb.String()
}

func buildImagePrompt(spec domain.ImageSpec, bibles map[string]string, artStyle string) string {
	sb := &strings.Builder{}
	if spec.Title != "" {
		fmt.Fprintf(sb, "%s. ", spec.Title)
	}
	sb.WriteString(spec.Scene)
	for _, name := range spec.Characters {
		if bible, ok := bibles[name]; ok {
			fmt.Fprintf(sb, "\n%s: %s", name, bible)
		} else {
			fmt.Fprintf(sb, "\nFeaturing %s.", name)
		}
	}
	if spec.Environment != "" {
		fmt.Fprintf(sb, "\nEnvironment: %s.", spec.Environment)
	}
	if spec.Lighting != "" {
		fmt.Fprintf(sb, " Lighting: %s.", spec.Lighting)
	}
	if spec.Composition != "" {
		fmt.Fprintf(sb, " Composition: %s.", spec.Composition)
	}
	if spec.Palette != "" {
		fmt.Fprintf(sb, " Palette: %s.", spec.Palette)
	}
	if style := strings.TrimSpace(artStyle); style != "" {
		// Repeated on purpose; the model drifts off-style otherwise.
		fmt.Fprintf(sb, "\nArt style: %s. Render strictly in this %s style.", style, style)
	}
	sb.WriteString("\n")
	sb.WriteString(negativeConstraints)
	if spec.IsCover() {
		sb.WriteString(" ")
		sb.WriteString(coverConstraint)
	}
	return sb.String()
}

func buildStoryIdeaPrompt(locale string) string {
	if locale == "" {
		locale = "en"
	}
	return fmt.Sprintf("Invent one fresh children's book idea. Use locale '%s' for the language of title and story.", locale)
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}
