package backend

import (
	"context"
	"testing"
)

func TestFactory(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	pm := NewProcessManager()

	tests := []struct {
		typ     string
		wantErr bool
	}{
		{"anthropic", false},
		{"", false},
		{"claude", false},
		{"codex", false},
		{"goose", false},
		{"unknown", true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			b, err := New(Config{Type: tt.typ, WorkDir: t.TempDir()}, pm)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q) expected error", tt.typ)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) error: %v", tt.typ, err)
			}
			if b == nil {
				t.Fatal("expected non-nil backend")
			}
		})
	}
}

func TestAnthropicRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := New(Config{Type: "anthropic"}, nil); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestFuncAdapter(t *testing.T) {
	var got Request
	b := Func(func(_ context.Context, req Request) (Response, error) {
		got = req
		return Response{Content: "ok"}, nil
	})

	resp, err := b.Complete(context.Background(), Prompt("GROWTH-01", "be brief", "hello"))
	if err != nil || resp.Content != "ok" {
		t.Fatalf("Complete() = %+v, %v", resp, err)
	}
	if got.Worker != "GROWTH-01" || got.System != "be brief" || len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("request = %+v", got)
	}
}
