// Package llm drafts email replies via Google's hosted Gemini API, falling
// back to canned replies whenever the upstream is unavailable so the
// endpoint never fails outright.
package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-1.5-flash"

// Request limits and enumerations. Values arrive from an untrusted browser
// extension, so everything is validated and defaulted before prompting.
const (
	MaxSubjectLen = 300
	MaxBodyLen    = 20000
)

var (
	languages = map[string]bool{"auto": true, "en": true, "es": true, "fr": true, "de": true, "it": true, "pt": true, "nl": true}
	tones     = map[string]bool{"neutral": true, "formal": true, "friendly": true, "casual": true}
	stances   = map[string]bool{"acknowledge": true, "accept": true, "decline": true}
	lengths   = map[string]bool{"short": true, "medium": true, "long": true}
)

// Request is a reply-generation request after JSON decoding. Call Validate
// before use.
type Request struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Language string `json:"language"`
	Tone     string `json:"tone"`
	Stance   string `json:"stance"`
	Length   string `json:"length"`
}

// Validate applies defaults for absent enum fields and rejects anything
// outside the closed enumerations or over the size limits.
func (r *Request) Validate() error {
	if utf8.RuneCountInString(r.Subject) > MaxSubjectLen {
		return fmt.Errorf("subject exceeds %d characters", MaxSubjectLen)
	}
	if utf8.RuneCountInString(r.Body) > MaxBodyLen {
		return fmt.Errorf("body exceeds %d characters", MaxBodyLen)
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("body is required")
	}

	if r.Language == "" {
		r.Language = "auto"
	}
	if r.Tone == "" {
		r.Tone = "neutral"
	}
	if r.Stance == "" {
		r.Stance = "acknowledge"
	}
	if r.Length == "" {
		r.Length = "medium"
	}

	if !languages[r.Language] {
		return fmt.Errorf("unsupported language %q", r.Language)
	}
	if !tones[r.Tone] {
		return fmt.Errorf("unsupported tone %q", r.Tone)
	}
	if !stances[r.Stance] {
		return fmt.Errorf("unsupported stance %q", r.Stance)
	}
	if !lengths[r.Length] {
		return fmt.Errorf("unsupported length %q", r.Length)
	}
	return nil
}

// Generator proxies to Gemini. A zero-config generator is valid and always
// serves fallback replies.
type Generator struct {
	client *genai.Client
	model  string
}

type Config struct {
	APIKey string
	Model  string
}

// NewGenerator initializes the Gemini client. With no API key the generator
// runs in fallback-only mode rather than erroring at startup.
func NewGenerator(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.APIKey == "" {
		return &Generator{model: cfg.Model}, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Generator{client: client, model: cfg.Model}, nil
}

// Configured returns true when an upstream API key is set.
func (g *Generator) Configured() bool {
	return g.client != nil
}

// Close releases the underlying client, if any.
func (g *Generator) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

// Draft produces a reply for a validated request. Upstream failures of any
// kind degrade to a canned reply selected by stance; Draft never returns an
// error to the caller.
func (g *Generator) Draft(ctx context.Context, req Request) string {
	if g.client == nil {
		return FallbackReply(req.Stance)
	}

	model := g.client.GenerativeModel(g.model)
	maxTokens, temperature := genParams(req.Tone, req.Length)
	model.SetMaxOutputTokens(maxTokens)
	model.SetTemperature(temperature)

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(req)))
	if err != nil {
		return FallbackReply(req.Stance)
	}

	text := extractText(resp)
	if text == "" {
		return FallbackReply(req.Stance)
	}
	return trimWrappingQuotes(text)
}

// genParams derives generation parameters deterministically from the
// validated tone and length.
func genParams(tone, length string) (maxTokens int32, temperature float32) {
	switch length {
	case "short":
		maxTokens = 160
	case "long":
		maxTokens = 800
	default:
		maxTokens = 400
	}
	switch tone {
	case "friendly":
		temperature = 0.7
	case "casual":
		temperature = 0.9
	default: // formal, neutral
		temperature = 0.4
	}
	return maxTokens, temperature
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are drafting an email reply on behalf of the recipient.\n")
	fmt.Fprintf(&b, "Tone: %s. Length: %s. The reply should %s the sender's request.\n", req.Tone, req.Length, req.Stance)
	if req.Language == "auto" {
		b.WriteString("Reply in the same language as the email.\n")
	} else {
		fmt.Fprintf(&b, "Reply in language: %s.\n", req.Language)
	}
	b.WriteString("Output only the reply body, with no subject line, no quoting, and no commentary.\n\n")
	if req.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	}
	fmt.Fprintf(&b, "Email:\n%s\n", req.Body)
	return b.String()
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

// FallbackReply is the canned reply used when the upstream call fails.
func FallbackReply(stance string) string {
	switch stance {
	case "accept":
		return "Thank you for reaching out. That works for me — happy to proceed as you suggested. Let me know if you need anything else from my side."
	case "decline":
		return "Thank you for reaching out. Unfortunately I won't be able to accommodate this at the moment. I appreciate your understanding."
	default: // acknowledge
		return "Thank you for your email. I've received your message and will get back to you with a full response shortly."
	}
}

// trimWrappingQuotes removes a single layer of quote characters some models
// wrap the whole completion in.
func trimWrappingQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}} {
		if strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) && len(s) > len(pair[0])+len(pair[1]) {
			return strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}
