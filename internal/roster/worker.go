package roster

import (
	"fmt"
	"time"

	"github.com/aristath/hq/internal/queue"
)

// Role is the broad function a worker performs. Task routing keys off it.
type Role string

const (
	RoleCommander Role = "commander"
	RoleArchitect Role = "architect"
	RoleCoder     Role = "coder"
	RoleAnalyst   Role = "analyst"
	RoleGrowth    Role = "growth"
	RoleBD        Role = "bd"
	RoleSupport   Role = "support"
	RoleRisk      Role = "risk"
	RoleCustom    Role = "custom"
)

// Roles lists every role.
var Roles = []Role{
	RoleCommander, RoleArchitect, RoleCoder, RoleAnalyst, RoleGrowth,
	RoleBD, RoleSupport, RoleRisk, RoleCustom,
}

// ParseRole validates a role name.
func ParseRole(name string) (Role, error) {
	for _, r := range Roles {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", name)
}

// Profile selects the task template set of a worker. Several workers share
// a role but draw from different templates.
type Profile string

const (
	ProfileCommander Profile = "commander"
	ProfileRevenue   Profile = "revenue"
	ProfileGrowth    Profile = "growth"
	ProfileBD        Profile = "bd"
	ProfileAnalyst   Profile = "analyst"
	ProfileSocial    Profile = "social"
	ProfileContent   Profile = "content"
	ProfileSupport   Profile = "support"
	ProfileRisk      Profile = "risk"
	ProfileDevRel    Profile = "devrel"
	ProfileLegal     Profile = "legal"
	ProfileArchitect Profile = "architect"
	ProfileCoder     Profile = "coder"
)

// Profiles lists every profile.
var Profiles = []Profile{
	ProfileCommander, ProfileRevenue, ProfileGrowth, ProfileBD, ProfileAnalyst,
	ProfileSocial, ProfileContent, ProfileSupport, ProfileRisk, ProfileDevRel,
	ProfileLegal, ProfileArchitect, ProfileCoder,
}

// ParseProfile validates a profile name.
func ParseProfile(name string) (Profile, error) {
	for _, p := range Profiles {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown profile %q", name)
}

// Status is the runtime state of a worker.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	StatusError
	StatusOffline
)

var statusNames = map[Status]string{
	StatusIdle:    "idle",
	StatusRunning: "running",
	StatusPaused:  "paused",
	StatusError:   "error",
	StatusOffline: "offline",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus converts a status name back into a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown worker status %q", name)
}

// Stats is the rolling outcome counter of a worker.
type Stats struct {
	Completed    int
	Failed       int
	LastActiveAt time.Time
}

// SuccessRate returns completed/(completed+failed), or 1 with no history.
func (s Stats) SuccessRate() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 1
	}
	return float64(s.Completed) / float64(total)
}

// Worker is a pre-provisioned task executor.
type Worker struct {
	Code        string
	Name        string
	Role        Role
	Profile     Profile
	Status      Status
	Active      bool
	CurrentTask string // task id while running
	Premium     bool   // paid provider; excluded from proactive generation
	Provider    string // backend route name
	Model       string
	Stats       Stats
	UpdatedAt   time.Time
}

// Available reports whether the worker can take a task right now.
func (w *Worker) Available() bool {
	return w.Active && w.Status == StatusIdle
}

// typeRoles lists, per task type, the roles that may pick up unassigned work.
var typeRoles = map[queue.Type][]Role{
	queue.TypeDevelopment:   {RoleCoder, RoleArchitect},
	queue.TypeAnalysis:      {RoleAnalyst, RoleArchitect, RoleGrowth},
	queue.TypeMarketing:     {RoleGrowth, RoleBD, RoleCustom},
	queue.TypeOperations:    {RoleSupport, RoleRisk, RoleCustom},
	queue.TypeResearch:      {RoleAnalyst, RoleBD, RoleGrowth},
	queue.TypePlanning:      {RoleArchitect, RoleGrowth},
	queue.TypeCommunication: {RoleBD, RoleSupport, RoleGrowth},
}

// RolesFor returns the roles eligible for a task type. Review work has no
// dedicated role and returns nil.
func RolesFor(t queue.Type) []Role {
	return typeRoles[t]
}

// Handles reports whether the worker's role is eligible for task type t.
func (w *Worker) Handles(t queue.Type) bool {
	for _, r := range typeRoles[t] {
		if r == w.Role {
			return true
		}
	}
	return false
}
