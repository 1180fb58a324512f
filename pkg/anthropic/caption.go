package anthropic

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// captionSystemPrompt frames every chart question.
const captionSystemPrompt = "You are a data analyst AI assistant. You are given a chart image from a " +
	"dashboard of Victorian open data. Answer the user's question about the chart concisely, " +
	"citing values you can read from it."

// defaultCaptionPrompt is used when the caller sends no question.
const defaultCaptionPrompt = "Summarise the key insights shown in this chart."

// ErrUnsupportedImage is returned for uploads that are not png, jpeg, gif or
// webp.
var ErrUnsupportedImage = eris.New("anthropic: unsupported image type")

var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// DetectImageType sniffs the media type of data.
func DetectImageType(data []byte) (string, error) {
	mt := http.DetectContentType(data)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if !supportedImageTypes[mt] {
		return "", eris.Wrapf(ErrUnsupportedImage, "anthropic: got %s", mt)
	}
	return mt, nil
}

// Captioner answers questions about chart images.
type Captioner struct {
	client    Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// CaptionOption configures a Captioner.
type CaptionOption func(*Captioner)

// WithRequestsPerMinute caps the caption request rate. Zero or less removes
// the cap.
func WithRequestsPerMinute(n int) CaptionOption {
	return func(c *Captioner) {
		if n <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60), n)
	}
}

// NewCaptioner creates a Captioner using model with the given output budget.
func NewCaptioner(client Client, model string, maxTokens int64, opts ...CaptionOption) *Captioner {
	c := &Captioner{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(rate.Limit(10.0/60), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe sends image with prompt and returns the model's answer. A blank
// prompt asks for a general summary.
func (c *Captioner) Describe(ctx context.Context, image []byte, prompt string) (string, error) {
	if len(image) == 0 {
		return "", eris.New("anthropic: empty image")
	}
	mediaType, err := DetectImageType(image)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultCaptionPrompt
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "anthropic: rate limit wait")
	}

	resp, err := c.client.CreateMessage(ctx, MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []SystemBlock{{Text: captionSystemPrompt}},
		Messages: []Message{{
			Role:    "user",
			Content: prompt,
			Images:  []Image{{MediaType: mediaType, Data: image}},
		}},
	})
	if err != nil {
		return "", eris.Wrap(err, "anthropic: describe chart")
	}
	resp.Usage.LogCost(c.model, "caption")

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", eris.New("anthropic: empty answer")
	}
	return answer, nil
}
