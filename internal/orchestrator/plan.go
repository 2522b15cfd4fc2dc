package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoPlan is returned when planner output holds no usable item list.
var ErrNoPlan = errors.New("no plan in planner output")

// StrategicItem is one task proposed by strategic planning.
type StrategicItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AssignedTo  string `json:"assignedTo"`
	Priority    string `json:"priority"`
	Type        string `json:"type"`
}

// Piece is one part of a task breakdown.
type Piece struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Role        string `json:"role"`
	Priority    string `json:"priority"`
}

var (
	fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)
)

// parseItems decodes a JSON array out of free-form planner text. It tries,
// in order: the whole text, the first fenced code block, and the outermost
// bracketed span.
func parseItems[T any](text string) ([]T, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoPlan
	}

	candidates := []string{text}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if m := arrayPattern.FindString(text); m != "" {
		candidates = append(candidates, m)
	}

	var lastErr error
	for _, c := range candidates {
		var items []T
		if err := json.Unmarshal([]byte(c), &items); err != nil {
			lastErr = err
			continue
		}
		if len(items) == 0 {
			return nil, ErrNoPlan
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoPlan, lastErr)
}

// ParseStrategy extracts strategic task proposals. Items without a title are
// dropped.
func ParseStrategy(text string) ([]StrategicItem, error) {
	items, err := parseItems[StrategicItem](text)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it.Title) != "" {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoPlan
	}
	return out, nil
}

// ParseBreakdown extracts decomposition pieces. Items without a title are
// dropped; fewer than minPieces titled items is not a breakdown.
func ParseBreakdown(text string) ([]Piece, error) {
	items, err := parseItems[Piece](text)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it.Title) != "" {
			out = append(out, it)
		}
	}
	if len(out) < minPieces {
		return nil, fmt.Errorf("%w: %d piece(s), need at least %d", ErrNoPlan, len(out), minPieces)
	}
	return out, nil
}
