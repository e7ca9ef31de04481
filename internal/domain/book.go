package domain

import "strings"

// Character is one user-submitted character. Image, when present, is a data
// URL carrying an uploaded reference photo. Characters are never mutated
// after submission.
type Character struct {
	Name        string `json:"name"`
	Age         string `json:"age,omitempty"`
	Description string `json:"description,omitempty"`
	Role        string `json:"role,omitempty"`
	Image       string `json:"image,omitempty"`
}

// HasDetail reports whether the character carries any descriptive
// information worth analyzing. Characters without any detail skip the
// analysis phase entirely.
func (c Character) HasDetail() bool {
	return strings.TrimSpace(c.Name) != "" ||
		strings.TrimSpace(c.Age) != "" ||
		strings.TrimSpace(c.Description) != "" ||
		strings.TrimSpace(c.Role) != "" ||
		strings.TrimSpace(c.Image) != ""
}

// BookRequest is a validated generation request as accepted by the HTTP
// boundary and consumed by the pipeline.
type BookRequest struct {
	Title      string      `json:"title"`
	Story      string      `json:"story,omitempty"`
	NumImages  int         `json:"numImages"`
	ArtStyle   string      `json:"artStyle,omitempty"`
	Characters []Character `json:"characters"`
	Locale     string      `json:"-"`
}

// ImageSpec describes one page illustration within a book plan.
type ImageSpec struct {
	Page        int      `json:"page"`
	Title       string   `json:"title"`
	Scene       string   `json:"scene"`
	Characters  []string `json:"characters,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Lighting    string   `json:"lighting,omitempty"`
	Palette     string   `json:"palette,omitempty"`
	Composition string   `json:"composition,omitempty"`
}

// IsCover reports whether the spec describes the front or back cover page.
func (s ImageSpec) IsCover() bool {
	title := strings.ToLower(s.Title)
	return strings.Contains(title, "front cover") || strings.Contains(title, "back cover")
}

// BookPlan is the ordered list of image specifications produced by the
// planning call: front cover, story scenes, back cover. It is consumed once
// to drive image generation and then discarded.
type BookPlan struct {
	Title  string      `json:"title"`
	Images []ImageSpec `json:"images"`
}

// StoryIdea is the payload of the synchronous story-idea endpoint.
type StoryIdea struct {
	Title     string `json:"title"`
	Story     string `json:"story"`
	NumImages int    `json:"numImages"`
}
