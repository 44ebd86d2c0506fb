// Package llm provides Claude-backed implementations of the summarization
// and memory-extraction interfaces. Both are thin prompt wrappers around the
// Messages API; neither retries, callers own retry policy.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mnemohq/mnemo-go-sdk/memory"
	"github.com/mnemohq/mnemo-go-sdk/session"
)

var (
	_ session.Summarizer = (*Summarizer)(nil)
	_ memory.Extractor   = (*Extractor)(nil)
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-20250514"

	defaultMaxTokens = 1024

	// noneSentinel is what the extraction prompt asks the model to emit
	// when the window holds nothing worth remembering.
	noneSentinel = "NONE"
)

// Config configures the Claude-backed components.
type Config struct {
	// Model selects the Claude model. Default: DefaultModel.
	Model string

	// MaxTokens caps the response length. Default: 1024.
	MaxTokens int64
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

// Summarizer condenses conversation history through Claude. It satisfies
// session.Summarizer.
type Summarizer struct {
	client anthropic.Client
	cfg    Config
}

// NewSummarizer creates a Claude-backed summarizer.
func NewSummarizer(client anthropic.Client, cfg Config) *Summarizer {
	cfg.defaults()
	return &Summarizer{client: client, cfg: cfg}
}

const summarizeSystem = `You condense conversation history for a memory-constrained assistant.
Write a compact third-person summary that preserves: stated facts, user preferences, decisions made, and unresolved questions.
If an existing summary is provided, fold the new messages into it rather than starting over.
Reply with the summary text only.`

// Summarize folds evicted messages into the running summary and returns the
// new summary text.
func (s *Summarizer) Summarize(ctx context.Context, previous string, evicted []session.Message) (string, error) {
	var b strings.Builder
	if previous != "" {
		fmt.Fprintf(&b, "Existing summary:\n%s\n\n", previous)
	}
	b.WriteString("Messages to fold in:\n")
	for _, msg := range evicted {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: s.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: summarizeSystem},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	out := textContent(resp)
	if out == "" {
		return "", fmt.Errorf("summarize: empty response")
	}
	return out, nil
}

// Extractor distills memory-worthy statements from conversation windows
// through Claude. It satisfies memory.Extractor.
type Extractor struct {
	client anthropic.Client
	cfg    Config
}

// NewExtractor creates a Claude-backed extractor.
func NewExtractor(client anthropic.Client, cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{client: client, cfg: cfg}
}

const extractSystem = `You extract long-term memory from conversation transcripts.
Given a window of recent messages, reply with ONE standalone statement worth remembering about the user: a fact, a preference, or a way they like things done.
The statement must make sense without the transcript. Do not include names, emails, phone numbers, or other identifiers.
If nothing in the window is worth remembering, reply with exactly NONE.`

// Extract returns one memory-worthy statement from the window, or empty when
// the model judges there is nothing to keep.
func (e *Extractor) Extract(ctx context.Context, window string, hints []string) (string, error) {
	var b strings.Builder
	b.WriteString("Transcript window:\n")
	b.WriteString(window)
	if len(hints) > 0 {
		b.WriteString("\n\nFocus areas: ")
		b.WriteString(strings.Join(hints, ", "))
	}

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.cfg.Model),
		MaxTokens: e.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: extractSystem},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}

	out := textContent(resp)
	if strings.EqualFold(strings.TrimSpace(out), noneSentinel) {
		return "", nil
	}
	return out, nil
}

func textContent(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
