// Package export renders a project's learning plan as a printable PDF.
package export

import (
	"errors"
	"time"
)

// Request contains parameters for a plan export.
type Request struct {
	ProjectID string
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// PlanWeekView is one week row in the rendered plan.
type PlanWeekView struct {
	WeekNumber  int
	Title       string
	Objectives  []string
	Concepts    []string
	Deliverable string
	Status      string
}

// PlanView is everything the plan template needs.
type PlanView struct {
	Title       string
	Goal        string
	Summary     string
	Skills      []string
	Milestones  []string
	LearnerName string
	TotalWeeks  int
	GeneratedAt time.Time
	Weeks       []PlanWeekView
}

var (
	// ErrNoPlan indicates the project has no generated plan to export.
	ErrNoPlan = errors.New("export: project has no plan")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
