package learning

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

func TestExtractInsight(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{name: "too short", result: "Done. All good.", want: ""},
		{
			name:   "no long sentences",
			result: "Done here. Also done. That's it. Nothing else. Truly done now. OK then.",
			want:   "",
		},
		{
			name:   "key term beats length",
			result: "The quarterly numbers were collected from every regional dashboard. We recommend raising the annual plan price.",
			want:   "We recommend raising the annual plan price",
		},
		{
			name:   "first sentence wins ties",
			result: "Alpha team shipped the widget on time\nBravo team shipped the gadget on time\n",
			want:   "Alpha team shipped the widget on time",
		},
		{
			name:   "chinese terms and breaks",
			result: "本周我们整理了所有渠道的用户反馈数据。我们发现注册流程存在严重问题需要尽快优化处理！其他一切正常运转没有异常。",
			want:   "我们发现注册流程存在严重问题需要尽快优化处理",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractInsight(tt.result); got != tt.want {
				t.Errorf("ExtractInsight() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractInsightTruncates(t *testing.T) {
	long := "We found that " + strings.Repeat("ü", 400)
	got := ExtractInsight(long)
	if n := utf8.RuneCountInString(got); n != maxInsightRunes {
		t.Errorf("insight has %d runes, want %d", n, maxInsightRunes)
	}
	if !utf8.ValidString(got) {
		t.Error("insight is not valid UTF-8")
	}
}

func TestConfidence(t *testing.T) {
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		task queue.Task
		want float64
	}{
		{name: "baseline", task: queue.Task{Result: "short"}, want: 0.5},
		{name: "long", task: queue.Task{Result: strings.Repeat("x", 600)}, want: 0.7},
		{name: "very long", task: queue.Task{Result: strings.Repeat("x", 1200)}, want: 0.8},
		{
			name: "very long and fast",
			task: queue.Task{Result: strings.Repeat("x", 1200), StartedAt: start, CompletedAt: start.Add(10 * time.Second)},
			want: 0.9,
		},
		{
			name: "slow",
			task: queue.Task{Result: "short", StartedAt: start, CompletedAt: start.Add(time.Minute)},
			want: 0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(&tt.task)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Confidence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelevantRoles(t *testing.T) {
	if got := RelevantRoles(queue.TypeDevelopment); len(got) != 2 || got[0] != roster.RoleCoder {
		t.Errorf("development roles = %v", got)
	}
	if got := RelevantRoles(queue.TypeCommunication); len(got) != 1 || got[0] != roster.RoleArchitect {
		t.Errorf("fallback roles = %v", got)
	}
}
