package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storybook/pkg/retry"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	defaultTextModel   = "gpt-4o-mini"
	defaultVisionModel = "gpt-4o"
	defaultImageModel  = "dall-e-3"

	textTimeout   = 30 * time.Second
	visionTimeout = 60 * time.Second
	imageTimeout  = 120 * time.Second

	maxAttempts = 3
)

// Options configures a Client. Only APIKey is required.
type Options struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string
	ImageModel  string
	HTTPClient  *http.Client
	// RetryBaseDelay scales the backoff schedule; tests shorten it. The
	// default of one second yields waits of 2s then 4s.
	RetryBaseDelay time.Duration
}

// Client calls an OpenAI-compatible completion and image API. Transient
// failures (transport errors, 429, rate-limit codes, 5xx) are retried with
// exponential backoff; the error from the final attempt propagates to the
// caller unchanged. The client keeps no state between calls.
type Client struct {
	apiKey      string
	baseURL     string
	textModel   string
	visionModel string
	imageModel  string
	client      *http.Client
	retryBase   time.Duration
}

// NewClient validates the options and constructs a Client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	retryBase := opts.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = time.Second
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		textModel:   coalesce(opts.TextModel, defaultTextModel),
		visionModel: coalesce(opts.VisionModel, defaultVisionModel),
		imageModel:  coalesce(opts.ImageModel, defaultImageModel),
		client:      client,
		retryBase:   retryBase,
	}, nil
}

// TextModel returns the configured lightweight completion model.
func (c *Client) TextModel() string { return c.textModel }

// VisionModel returns the configured vision-capable completion model.
func (c *Client) VisionModel() string { return c.visionModel }

// Message is one chat turn. Content is either a plain string or a list of
// typed parts for vision requests; use Text and Vision to build them.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Text builds a plain text message.
func Text(role, text string) Message {
	return Message{Role: role, Content: text}
}

// Vision builds a message pairing text with an image, supplied as a data URL
// or a plain URL.
func Vision(role, text, imageURL string) Message {
	return Message{Role: role, Content: []map[string]any{
		{"type": "text", "text": text},
		{"type": "image_url", "image_url": map[string]string{"url": imageURL}},
	}}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiErrorBody `json:"error"`
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai: http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("openai: http %d", e.Status)
}

// RateLimited reports whether the error signals provider throttling.
func (e *APIError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests || e.Code == "rate_limit_exceeded"
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RateLimited() || apiErr.Status >= http.StatusInternalServerError
	}
	// Everything else at this layer is a transport-level failure.
	return true
}

func (c *Client) policy() retry.Policy {
	return retry.Policy{MaxAttempts: maxAttempts, BaseDelay: c.retryBase, Retryable: retryable}
}

// CompleteText issues one chat completion and returns the message text.
// Vision-capable models get a longer per-call timeout.
func (c *Client) CompleteText(ctx context.Context, messages []Message, model string) (string, error) {
	if model == "" {
		model = c.textModel
	}
	timeout := textTimeout
	if model == c.visionModel {
		timeout = visionTimeout
	}

	var text string
	err := retry.Do(ctx, c.policy(), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var out chatResponse
		if err := c.post(callCtx, "/chat/completions", chatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: 0.7,
		}, &out); err != nil {
			return err
		}
		if len(out.Choices) == 0 {
			return &APIError{Status: http.StatusOK, Message: "no choices in response"}
		}
		text = strings.TrimSpace(out.Choices[0].Message.Content)
		if text == "" {
			return &APIError{Status: http.StatusOK, Message: "empty completion"}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// GenerateImage produces one image for the prompt and returns its bytes. The
// generation call is retried like any other; the secondary download of the
// returned image URL is attempted once and failures there are reported as a
// distinct error.
func (c *Client) GenerateImage(ctx context.Context, prompt, size string) ([]byte, error) {
	var (
		imageURL string
		payload  []byte
	)
	err := retry.Do(ctx, c.policy(), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, imageTimeout)
		defer cancel()

		var out imageResponse
		if err := c.post(callCtx, "/images/generations", imageRequest{
			Model:  c.imageModel,
			Prompt: prompt,
			N:      1,
			Size:   size,
		}, &out); err != nil {
			return err
		}
		if len(out.Data) == 0 {
			return &APIError{Status: http.StatusOK, Message: "no image in response"}
		}
		if b64 := out.Data[0].B64JSON; b64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return fmt.Errorf("openai: decode inline image: %w", err)
			}
			payload = decoded
			return nil
		}
		imageURL = out.Data[0].URL
		if imageURL == "" {
			return &APIError{Status: http.StatusOK, Message: "image response carries neither url nor data"}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if payload != nil {
		return payload, nil
	}

	data, err := c.download(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("openai: download generated image: %w", err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("openai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error *apiErrorBody `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
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
