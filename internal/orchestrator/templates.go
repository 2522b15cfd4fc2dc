package orchestrator

import (
	"strings"

	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// TaskTemplate is a stock task a worker can be handed when it is idle.
type TaskTemplate struct {
	Title       string
	Description string
	Type        queue.Type
	Priority    queue.Priority
}

// roleTemplates holds the proactive task pool per worker profile.
var roleTemplates = map[roster.Profile][]TaskTemplate{
	roster.ProfileCommander: {
		{"Weekly strategic review", "Review the last week of worker output and outcomes. Name the biggest bottleneck and set next week's three goals.", queue.TypePlanning, queue.PriorityCritical},
		{"Market shift assessment", "Survey recent shifts in the market we serve and judge whether the current roadmap still holds.", queue.TypeAnalysis, queue.PriorityHigh},
		{"Partnership strategy", "Shortlist strategic partners and outline an outreach sequence the business development workers can run.", queue.TypePlanning, queue.PriorityHigh},
	},
	roster.ProfileRevenue: {
		{"Signup funnel review", "Find where prospective customers drop out of onboarding and propose three changes that would lift conversion.", queue.TypeAnalysis, queue.PriorityCritical},
		{"Revenue growth plan", "Pick the best-performing offerings and plan a short campaign to push them to the right audience.", queue.TypePlanning, queue.PriorityHigh},
		{"Pricing comparison", "Compare our fees with the main alternatives and judge whether a promotional price would pay off.", queue.TypeResearch, queue.PriorityNormal},
		{"Transaction failure audit", "Check the last day of transactions for customers with unusual failure rates and report them for follow-up.", queue.TypeAnalysis, queue.PriorityCritical},
	},
	roster.ProfileGrowth: {
		{"Trend engagement", "Find a handful of high-reach conversations in our space and draft replies that add real value.", queue.TypeMarketing, queue.PriorityHigh},
		{"Mention sweep", "Search for recent public mentions of the project and draft a response for each one worth answering.", queue.TypeAnalysis, queue.PriorityNormal},
		{"Landing page review", "Compare our landing page with strong examples and suggest three concrete copy or layout changes.", queue.TypePlanning, queue.PriorityHigh},
	},
	roster.ProfileBD: {
		{"Grant program search", "Look for newly opened grant and credits programs that fit the project and list deadlines and requirements.", queue.TypeResearch, queue.PriorityCritical},
		{"Partner outreach", "Research five potential integration partners and draft a tailored first message for each.", queue.TypeMarketing, queue.PriorityHigh},
		{"Cloud credit applications", "Check the state of our cloud credit applications and prepare the next one that is due.", queue.TypeOperations, queue.PriorityCritical},
		{"Free tier inventory", "Collect providers with generous free tiers relevant to our workload and compare their limits.", queue.TypeResearch, queue.PriorityCritical},
	},
	roster.ProfileAnalyst: {
		{"Growth data audit", "Compile the current key numbers with day-over-day change and point out anything anomalous.", queue.TypeAnalysis, queue.PriorityCritical},
		{"Competitor teardown", "Pick one competitor and study their latest releases, docs and announcements. Summarize what matters to us.", queue.TypeResearch, queue.PriorityHigh},
	},
	roster.ProfileSocial: {
		{"Long-form post", "Write one substantial post on a topic our audience cares about and publish it.", queue.TypeMarketing, queue.PriorityCritical},
		{"Community engagement", "Find recent posts from voices in our field and leave thoughtful replies.", queue.TypeMarketing, queue.PriorityHigh},
		{"Cross-channel update", "Write a community update and adapt it for each channel we run.", queue.TypeMarketing, queue.PriorityHigh},
		{"Feature thread", "Write a short connected thread explaining one feature with a concrete example.", queue.TypeMarketing, queue.PriorityHigh},
	},
	roster.ProfileContent: {
		{"Technical blog post", "Write an 800 to 1200 word technical article on one capability of the product.", queue.TypeMarketing, queue.PriorityHigh},
		{"SDK tutorial", "Write a step-by-step integration tutorial from installation to the first working call.", queue.TypeMarketing, queue.PriorityHigh},
		{"Documentation refresh", "Review the getting-started docs for stale or missing steps and fix them.", queue.TypeOperations, queue.PriorityNormal},
		{"Release notes", "Turn recent changes into readable release notes for the blog and the community channels.", queue.TypeMarketing, queue.PriorityNormal},
	},
	roster.ProfileSupport: {
		{"Feedback triage", "Go through open questions and bug reports, categorize them by severity and answer what can be answered.", queue.TypeOperations, queue.PriorityHigh},
		{"FAQ update", "Add the questions that came up repeatedly this week to the FAQ.", queue.TypeOperations, queue.PriorityNormal},
		{"Daily feedback summary", "Summarize today's feedback into bugs, feature requests, praise and complaints.", queue.TypeAnalysis, queue.PriorityHigh},
	},
	roster.ProfileRisk: {
		{"Security posture check", "Look for exposed credentials, outdated dependencies and known vulnerabilities in our stack.", queue.TypeOperations, queue.PriorityHigh},
		{"Dependency audit", "Audit dependency versions and report anything with a critical or high severity advisory.", queue.TypeOperations, queue.PriorityHigh},
		{"Compliance checklist", "Check for regulatory changes that affect us and update the compliance checklist.", queue.TypeOperations, queue.PriorityNormal},
	},
	roster.ProfileDevRel: {
		{"Repository triage", "Answer open issues and pull requests, welcome new contributors and label easy first issues.", queue.TypeOperations, queue.PriorityHigh},
		{"Developer experience review", "Compare our SDK docs with the best in the field and write down the gaps.", queue.TypeMarketing, queue.PriorityNormal},
		{"Framework integration research", "Study the plugin systems of popular agent frameworks and outline an integration for one of them.", queue.TypeResearch, queue.PriorityHigh},
	},
	roster.ProfileLegal: {
		{"Regulatory scan", "Check for new regulations in our key markets and summarize what we would need to change.", queue.TypeResearch, queue.PriorityNormal},
		{"Grant terms review", "Review the terms of pending grant applications and flag risky commitments.", queue.TypeOperations, queue.PriorityNormal},
		{"Policy review", "Review the terms of service and privacy policy against current best practice.", queue.TypeOperations, queue.PriorityLow},
	},
	roster.ProfileArchitect: {
		{"Architecture review", "Analyze the current code structure, identify technical debt and propose improvements.", queue.TypePlanning, queue.PriorityNormal},
	},
	roster.ProfileCoder: {
		{"Code quality check", "Review recent changes for bugs and performance problems.", queue.TypeDevelopment, queue.PriorityNormal},
	},
}

// TemplatesFor returns the proactive task pool of a worker: its profile's
// set, falling back to the set named after its role.
func TemplatesFor(w *roster.Worker) (roster.Profile, []TaskTemplate) {
	if t := roleTemplates[w.Profile]; len(t) > 0 {
		return w.Profile, t
	}
	key := roster.Profile(w.Role)
	return key, roleTemplates[key]
}

// roleTypes maps role and profile names to the task type their work has.
var roleTypes = map[string]queue.Type{
	"commander": queue.TypePlanning,
	"revenue":   queue.TypeAnalysis,
	"architect": queue.TypePlanning,
	"coder":     queue.TypeDevelopment,
	"analyst":   queue.TypeAnalysis,
	"growth":    queue.TypeMarketing,
	"bd":        queue.TypeMarketing,
	"social":    queue.TypeMarketing,
	"content":   queue.TypeMarketing,
	"support":   queue.TypeOperations,
	"risk":      queue.TypeOperations,
	"devrel":    queue.TypeOperations,
	"legal":     queue.TypeResearch,
}

// TypeForRole returns the task type for work aimed at a role or profile.
// Unknown names map to operations.
func TypeForRole(name string) queue.Type {
	if t, ok := roleTypes[strings.ToLower(name)]; ok {
		return t
	}
	return queue.TypeOperations
}
