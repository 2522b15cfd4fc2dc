package backend

import (
	"errors"
	"time"
)

// ErrRateLimited is returned (wrapped) when a provider refuses a call because
// of quota or rate limits.
var ErrRateLimited = errors.New("provider rate limited")

// ErrEmptyResponse is returned when a provider answered without any text.
var ErrEmptyResponse = errors.New("provider returned no content")

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Options tunes a single completion call.
type Options struct {
	Model     string
	MaxTokens int
}

// Request is a completion request on behalf of a worker.
type Request struct {
	Worker   string
	System   string
	Messages []Message
	Options  Options
}

// Prompt is a convenience constructor for a single user turn.
func Prompt(worker, system, content string) Request {
	return Request{
		Worker:   worker,
		System:   system,
		Messages: []Message{{Role: "user", Content: content}},
	}
}

// Usage reports the input and output units a provider billed for a call.
type Usage struct {
	InputUnits  int
	OutputUnits int
}

// Response is the provider's answer.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Config holds configuration for creating a backend instance.
type Config struct {
	Type      string        // "anthropic", "claude", "codex", or "goose"
	Model     string        // default model when the request does not name one
	Provider  string        // goose provider override (e.g. "ollama")
	Binary    string        // CLI executable, defaults to Type
	WorkDir   string        // working directory for CLI backends
	APIKey    string        // anthropic key; ANTHROPIC_API_KEY when empty
	MaxTokens int           // default max tokens for API backends
	Timeout   time.Duration // per-call timeout, zero means none
}
