package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

var roleBriefs = map[roster.Role]string{
	roster.RoleCommander: "You coordinate the team. Set direction, weigh trade-offs and turn goals into concrete next steps.",
	roster.RoleArchitect: "You own the technical design. Produce clear plans, interfaces and reviews that others can build from.",
	roster.RoleCoder:     "You write and fix code. Deliver working changes with short explanations of what changed.",
	roster.RoleAnalyst:   "You research and analyse. Back conclusions with data and state your confidence.",
	roster.RoleGrowth:    "You drive user and revenue growth. Propose experiments with measurable outcomes.",
	roster.RoleBD:        "You build partnerships. Identify counterparts, draft outreach and track follow-ups.",
	roster.RoleSupport:   "You help users and operators. Answer precisely and escalate what you cannot resolve.",
	roster.RoleRisk:      "You watch for risk and compliance problems. Flag issues early and suggest mitigations.",
	roster.RoleCustom:    "You are a specialist on the team. Complete the task thoroughly within your remit.",
}

var profileFocus = map[roster.Profile]string{
	roster.ProfileRevenue: "Focus on monetisation and pricing.",
	roster.ProfileSocial:  "Focus on social channels and community engagement.",
	roster.ProfileContent: "Focus on written content: articles, docs and announcements.",
	roster.ProfileDevRel:  "Focus on developer relations and integration guides.",
	roster.ProfileLegal:   "Focus on legal and regulatory questions.",
}

// SystemPrompt describes the worker to the provider.
func SystemPrompt(w *roster.Worker) string {
	brief, ok := roleBriefs[w.Role]
	if !ok {
		brief = roleBriefs[roster.RoleCustom]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s), a %s worker on an autonomous team.\n", w.Name, w.Code, w.Role)
	b.WriteString(brief)
	if focus, ok := profileFocus[w.Profile]; ok {
		b.WriteString(" ")
		b.WriteString(focus)
	}
	b.WriteString("\nAnswer with the finished work product. Be concrete and concise.")
	return b.String()
}

// TaskPrompt renders the task as the user turn. parent may be nil.
func TaskPrompt(t *queue.Task, parent *queue.Task, contextChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	fmt.Fprintf(&b, "Type: %s\nPriority: %s\n", t.Type, t.Priority)
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Description)
	}
	if t.Context.Pipeline != "" {
		fmt.Fprintf(&b, "\nThis task is a stage of the %q pipeline.\n", t.Context.Pipeline)
	}
	if t.Context.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", t.Context.Project)
	}
	if len(t.Context.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(t.Context.Tags, ", "))
	}
	if parent != nil {
		fmt.Fprintf(&b, "\nIt is part of the larger task %q.\n", parent.Title)
		if parent.Description != "" {
			fmt.Fprintf(&b, "Overall goal: %s\n", clip(parent.Description, contextChars))
		}
	}
	if t.RetryCount > 0 && t.Error != "" {
		fmt.Fprintf(&b, "\nAttempt %d. The previous attempt failed with: %s\n", t.RetryCount+1, clip(t.Error, contextChars))
	}
	return b.String()
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
