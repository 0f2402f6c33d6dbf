package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	ParentEmail           string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Project statuses walk scoping -> planning -> active -> completed, with
// paused reachable from active.
type Project struct {
	ID          string
	UserID      string
	Title       string
	Goal        string
	Status      string
	PlanState   string
	MasterPlan  *MasterPlan
	CurrentWeek int
	TotalWeeks  int
	Progress    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MasterPlan is persisted on the project row as JSON. The planner writes
// Overview first and Weeks second; a partially written plan is the signal
// for resumption.
type MasterPlan struct {
	Overview *PlanOverview `json:"overview,omitempty"`
	Weeks    []PlanWeek    `json:"weeks,omitempty"`
}

type PlanOverview struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Skills     []string `json:"skills"`
	TotalWeeks int      `json:"total_weeks"`
	Milestones []string `json:"milestones"`
}

type PlanWeek struct {
	WeekNumber  int      `json:"week_number"`
	Title       string   `json:"title"`
	Objectives  []string `json:"objectives"`
	Concepts    []string `json:"concepts"`
	Deliverable string   `json:"deliverable"`
}

type WeeklyPlan struct {
	ID          string
	ProjectID   string
	WeekNumber  int
	Title       string
	Objectives  []string
	Concepts    []string
	Deliverable string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Conversation struct {
	ID         string
	ProjectID  string
	Kind       string
	Title      string
	WeekNumber *int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message revisions share a SlotID (the first revision's own ID). A
// regenerated reply is a new row with Revision+1; old revisions are never
// mutated.
type Message struct {
	ID             string
	ConversationID string
	SlotID         string
	Revision       int
	Role           string
	Content        string
	Model          string
	CreatedAt      time.Time
}

type CodeArtifact struct {
	ID          string
	ProjectID   string
	WeekNumber  int
	Title       string
	Language    string
	Filename    string
	CommitHash  string
	RunExitCode *int
	RunOutput   string
	RanAt       *time.Time
	PreviewKey  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CommitInfo describes one snapshot in an artifact's history.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// DashboardSummary backs the landing view counters.
type DashboardSummary struct {
	Projects          int
	ActiveProjects    int
	CompletedProjects int
	WeeksDone         int
	Artifacts         int
}
