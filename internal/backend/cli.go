package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// CLIBackend runs a completion through an agent CLI, one subprocess per call.
// Supported dialects are "claude", "codex" and "goose".
type CLIBackend struct {
	cfg     Config
	binary  string
	procMgr *ProcessManager
}

// NewCLI creates a CLI backend. An empty WorkDir means the current directory.
func NewCLI(cfg Config, procMgr *ProcessManager) (*CLIBackend, error) {
	switch cfg.Type {
	case "claude", "codex", "goose":
	default:
		return nil, fmt.Errorf("unknown CLI dialect: %s", cfg.Type)
	}
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkDir = wd
	}
	binary := cfg.Binary
	if binary == "" {
		binary = cfg.Type
	}
	return &CLIBackend{cfg: cfg, binary: binary, procMgr: procMgr}, nil
}

// Complete implements Backend.
func (c *CLIBackend) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := withTimeout(ctx, c.cfg)
	defer cancel()

	model := req.Options.Model
	if model == "" {
		model = c.cfg.Model
	}

	cmd := newCommand(ctx, c.binary, c.buildArgs(req, model)...)
	cmd.Dir = c.cfg.WorkDir

	stdout, stderr, err := executeCommand(ctx, cmd, c.procMgr)
	if err != nil {
		return Response{}, classifyCLIError(c.cfg.Type, err, stderr)
	}

	var resp Response
	switch c.cfg.Type {
	case "claude":
		resp, err = parseClaudeOutput(stdout)
	case "codex":
		resp, err = parseCodexEvents(stdout)
	default:
		resp, err = parseGooseOutput(stdout)
	}
	if err != nil {
		return Response{}, classifyCLIError(c.cfg.Type, err, stderr)
	}
	if resp.Model == "" {
		resp.Model = model
	}
	if resp.Usage == (Usage{}) {
		resp.Usage = Usage{
			InputUnits:  estimateUnits(req.System) + estimateUnits(flatten(req.Messages)),
			OutputUnits: estimateUnits(resp.Content),
		}
	}
	if strings.TrimSpace(resp.Content) == "" {
		return resp, fmt.Errorf("%s: %w", c.cfg.Type, ErrEmptyResponse)
	}
	return resp, nil
}

// buildArgs constructs the command line for the configured dialect.
//
//	claude: -p <prompt> --output-format json [--model m] [--system-prompt s]
//	codex:  exec <system+prompt> --json [--model m]
//	goose:  run --text <prompt> --output-format json [--provider p] [--model m] [--system s]
func (c *CLIBackend) buildArgs(req Request, model string) []string {
	prompt := flatten(req.Messages)

	var args []string
	switch c.cfg.Type {
	case "claude":
		args = []string{"-p", prompt, "--output-format", "json"}
		if model != "" {
			args = append(args, "--model", model)
		}
		if req.System != "" {
			args = append(args, "--system-prompt", req.System)
		}
	case "codex":
		if req.System != "" {
			prompt = req.System + "\n\n" + prompt
		}
		args = []string{"exec", prompt, "--json"}
		if model != "" {
			args = append(args, "--model", model)
		}
	case "goose":
		args = []string{"run", "--text", prompt, "--output-format", "json"}
		if c.cfg.Provider != "" {
			args = append(args, "--provider", c.cfg.Provider)
		}
		if model != "" {
			args = append(args, "--model", model)
		}
		if req.System != "" {
			args = append(args, "--system", req.System)
		}
	}
	return args
}

// flatten renders a conversation as a single prompt. A lone user turn is
// passed through untouched.
func flatten(msgs []Message) string {
	if len(msgs) == 1 {
		return msgs[0].Content
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s", strings.ToUpper(role[:1])+role[1:], m.Content)
	}
	return b.String()
}

// estimateUnits approximates token units for CLIs that do not report usage.
func estimateUnits(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

var rateLimitMarkers = []string{"rate limit", "rate_limit", "ratelimit", "429", "quota", "usage limit", "overloaded"}

func isRateLimitText(s string) bool {
	s = strings.ToLower(s)
	for _, m := range rateLimitMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func classifyCLIError(binary string, err error, stderr []byte) error {
	if isRateLimitText(err.Error()) || isRateLimitText(string(stderr)) {
		return fmt.Errorf("%s: %w: %v", binary, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", binary, err)
}

// claudeOutput is the JSON document printed by `claude -p --output-format json`.
// Older releases nested the text under result.content; current ones print
// result as a plain string.
type claudeOutput struct {
	Result  json.RawMessage `json:"result"`
	IsError bool            `json:"is_error"`
	Model   string          `json:"model"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func parseClaudeOutput(data []byte) (Response, error) {
	var out claudeOutput
	if err := json.Unmarshal(bytes.TrimSpace(data), &out); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal claude output: %w", err)
	}

	var content string
	if err := json.Unmarshal(out.Result, &content); err != nil {
		var nested claudeContent
		if err := json.Unmarshal(out.Result, &nested); err != nil {
			return Response{}, fmt.Errorf("unexpected claude result shape: %s", string(out.Result))
		}
		for _, item := range nested.Content {
			if item.Type == "text" {
				content += item.Text
			}
		}
	}
	if out.IsError {
		return Response{}, fmt.Errorf("claude reported an error: %s", content)
	}

	return Response{
		Content: content,
		Model:   out.Model,
		Usage:   Usage{InputUnits: out.Usage.InputTokens, OutputUnits: out.Usage.OutputTokens},
	}, nil
}

// codexEvent covers the event shapes of `codex exec --json` that carry text
// or usage. Unknown event types are ignored.
type codexEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Message string `json:"message"`
	Item    struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func parseCodexEvents(data []byte) (Response, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var resp Response
	var parts []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return Response{}, fmt.Errorf("failed to parse codex event: %w", err)
		}
		switch evt.Type {
		case "TurnCompleted":
			parts = append(parts, evt.Content)
		case "item.completed":
			if evt.Item.Type == "agent_message" {
				parts = append(parts, evt.Item.Text)
			}
		case "turn.completed":
			resp.Usage.InputUnits += evt.Usage.InputTokens
			resp.Usage.OutputUnits += evt.Usage.OutputTokens
		case "error", "turn.failed":
			return Response{}, fmt.Errorf("codex error: %s", evt.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("error reading codex events: %w", err)
	}
	resp.Content = strings.Join(parts, "\n")
	return resp, nil
}

type gooseResponse struct {
	Content string `json:"content"`
}

// parseGooseOutput accepts a single JSON object or newline-delimited objects.
func parseGooseOutput(data []byte) (Response, error) {
	var single gooseResponse
	if err := json.Unmarshal(bytes.TrimSpace(data), &single); err == nil {
		return Response{Content: single.Content}, nil
	}

	var contents []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var lr gooseResponse
		if err := json.Unmarshal([]byte(line), &lr); err == nil && lr.Content != "" {
			contents = append(contents, lr.Content)
		}
	}
	if len(contents) == 0 {
		return Response{}, fmt.Errorf("failed to parse goose output")
	}
	return Response{Content: strings.Join(contents, "\n")}, nil
}
