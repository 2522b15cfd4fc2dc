package learning

import (
	"strings"
	"unicode/utf8"

	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

const (
	minResultRunes   = 50
	minSentenceRunes = 20
	maxInsightRunes  = 300
)

var keyTerms = []string{
	"recommend", "suggest", "found", "discovered", "important", "critical",
	"issue", "solution", "improve", "optimize",
	"建议", "发现", "重要", "关键", "问题", "解决", "优化", "改进",
}

func isSentenceBreak(r rune) bool {
	switch r {
	case '.', '!', '\n', '。', '！':
		return true
	}
	return false
}

// ExtractInsight picks the most informative sentence of a task result. Each
// key term adds two points and every hundred characters adds one; the first
// sentence wins ties. It returns "" when the result is too short to learn
// from.
func ExtractInsight(result string) string {
	if utf8.RuneCountInString(result) < minResultRunes {
		return ""
	}

	var sentences []string
	for _, s := range strings.FieldsFunc(result, isSentenceBreak) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > minSentenceRunes {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return ""
	}

	best, bestScore := sentences[0], 0.0
	for _, s := range sentences {
		lower := strings.ToLower(s)
		score := float64(utf8.RuneCountInString(s)) / 100
		for _, term := range keyTerms {
			if strings.Contains(lower, term) {
				score += 2
			}
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return truncate(best, maxInsightRunes)
}

// Confidence scores how much an insight from t can be trusted, in [0, 1].
// Long results and quick completions raise it.
func Confidence(t *queue.Task) float64 {
	c := 0.5
	n := utf8.RuneCountInString(t.Result)
	if n > 500 {
		c += 0.2
	}
	if n > 1000 {
		c += 0.1
	}
	if !t.StartedAt.IsZero() && !t.CompletedAt.IsZero() && t.CompletedAt.Sub(t.StartedAt) < fastCompletion {
		c += 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}

var relevantRoles = map[queue.Type][]roster.Role{
	queue.TypeDevelopment: {roster.RoleCoder, roster.RoleArchitect},
	queue.TypeAnalysis:    {roster.RoleAnalyst, roster.RoleGrowth},
	queue.TypeMarketing:   {roster.RoleGrowth, roster.RoleBD},
	queue.TypeOperations:  {roster.RoleSupport, roster.RoleRisk},
	queue.TypeResearch:    {roster.RoleAnalyst, roster.RoleBD},
	queue.TypePlanning:    {roster.RoleArchitect, roster.RoleAnalyst},
	queue.TypeReview:      {roster.RoleArchitect, roster.RoleCoder},
}

// RelevantRoles returns the roles that benefit from learnings of a task
// type. Unmapped types go to the architect.
func RelevantRoles(t queue.Type) []roster.Role {
	if roles, ok := relevantRoles[t]; ok {
		return roles
	}
	return []roster.Role{roster.RoleArchitect}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
