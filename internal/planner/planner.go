// Package planner generates a project's master plan in two LLM steps:
// a project overview, then a week-by-week breakdown. Every step persists
// its result before the next one starts, so a crash or page reload resumes
// from the database instead of starting over.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"ruby/api/internal/llm"
	"ruby/api/internal/store"
	"ruby/api/internal/util"
)

var (
	ErrNoGoal       = errors.New("planner: project has no scoped goal")
	ErrPlanApproved = errors.New("planner: plan already approved")
	ErrNotReady     = errors.New("planner: plan not ready for this step")
)

// Plan states in order. "none" -> "overview" -> "breakdown" -> "approved".
const (
	StateNone      = "none"
	StateOverview  = "overview"
	StateBreakdown = "breakdown"
	StateApproved  = "approved"
)

const stepAttempts = 2

type dataStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	UpdateProjectPlan(ctx context.Context, projectID, planState string, plan *store.MasterPlan, totalWeeks int) error
	ReplaceWeeklyPlans(ctx context.Context, projectID string, weeks []store.WeeklyPlan) error
	ApprovePlan(ctx context.Context, projectID string) error
}

type completer interface {
	CompleteWithSchema(ctx context.Context, system, user string, schema map[string]any) (string, error)
}

type Planner struct {
	store dataStore
	llm   completer
}

func New(dataStore dataStore, completer completer) *Planner {
	return &Planner{store: dataStore, llm: completer}
}

const overviewSystemPrompt = `You are a friendly coding mentor planning a multi-week project for a young learner.
Given the learner's goal, produce a project overview: an encouraging title, a short summary in simple language,
the skills they will practice, a realistic number of weeks (between 2 and 8), and one milestone per rough phase.
Keep everything achievable for a beginner working a few hours per week.`

const breakdownSystemPrompt = `You are a friendly coding mentor expanding a project overview into a week-by-week plan
for a young learner. Produce exactly the stated number of weeks. Each week needs a short title, two to four concrete
objectives written as actions, the key concepts introduced, and one small deliverable the learner can show off.
Weeks must build on each other and week numbers must start at 1.`

// GenerateOverview runs the first planning step and persists the result.
// Regenerating an unapproved overview is allowed and clears any stale weeks.
func (p *Planner) GenerateOverview(ctx context.Context, projectID string) (store.Project, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, fmt.Errorf("load project: %w", err)
	}
	if project.PlanState == StateApproved {
		return store.Project{}, ErrPlanApproved
	}
	if strings.TrimSpace(project.Goal) == "" {
		return store.Project{}, ErrNoGoal
	}

	user := fmt.Sprintf("Project title: %s\nLearner's goal: %s", project.Title, project.Goal)

	var overview llm.OverviewResult
	err = p.withRetry(ctx, "overview", func() error {
		raw, err := p.llm.CompleteWithSchema(ctx, overviewSystemPrompt, user, llm.OverviewSchema())
		if err != nil {
			return err
		}
		overview, err = llm.DecodeOverview(raw)
		return err
	})
	if err != nil {
		return store.Project{}, err
	}

	plan := &store.MasterPlan{
		Overview: &store.PlanOverview{
			Title:      overview.Title,
			Summary:    overview.Summary,
			Skills:     overview.Skills,
			TotalWeeks: overview.TotalWeeks,
			Milestones: overview.Milestones,
		},
	}
	if err := p.store.UpdateProjectPlan(ctx, projectID, StateOverview, plan, overview.TotalWeeks); err != nil {
		return store.Project{}, fmt.Errorf("persist overview: %w", err)
	}

	// A regenerated overview invalidates any earlier breakdown.
	if project.PlanState == StateBreakdown {
		if err := p.store.ReplaceWeeklyPlans(ctx, projectID, nil); err != nil {
			return store.Project{}, fmt.Errorf("clear stale weeks: %w", err)
		}
	}

	return p.store.GetProject(ctx, projectID)
}

// GenerateBreakdown runs the second planning step from the stored overview.
func (p *Planner) GenerateBreakdown(ctx context.Context, projectID string) (store.Project, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, fmt.Errorf("load project: %w", err)
	}
	if project.PlanState == StateApproved {
		return store.Project{}, ErrPlanApproved
	}
	if project.MasterPlan == nil || project.MasterPlan.Overview == nil {
		return store.Project{}, ErrNotReady
	}

	overview := project.MasterPlan.Overview
	user := fmt.Sprintf(
		"Project: %s\nSummary: %s\nSkills: %s\nMilestones: %s\nNumber of weeks: %d",
		overview.Title,
		overview.Summary,
		strings.Join(overview.Skills, ", "),
		strings.Join(overview.Milestones, "; "),
		overview.TotalWeeks,
	)

	var breakdown llm.BreakdownResult
	err = p.withRetry(ctx, "breakdown", func() error {
		raw, err := p.llm.CompleteWithSchema(ctx, breakdownSystemPrompt, user, llm.BreakdownSchema())
		if err != nil {
			return err
		}
		breakdown, err = llm.DecodeBreakdown(raw)
		return err
	})
	if err != nil {
		return store.Project{}, err
	}

	planWeeks := make([]store.PlanWeek, 0, len(breakdown.Weeks))
	weekRows := make([]store.WeeklyPlan, 0, len(breakdown.Weeks))
	for _, week := range breakdown.Weeks {
		planWeeks = append(planWeeks, store.PlanWeek{
			WeekNumber:  week.WeekNumber,
			Title:       week.Title,
			Objectives:  week.Objectives,
			Concepts:    week.Concepts,
			Deliverable: week.Deliverable,
		})
		weekRows = append(weekRows, store.WeeklyPlan{
			ID:          util.NewID("wk"),
			ProjectID:   projectID,
			WeekNumber:  week.WeekNumber,
			Title:       week.Title,
			Objectives:  week.Objectives,
			Concepts:    week.Concepts,
			Deliverable: week.Deliverable,
			Status:      "upcoming",
		})
	}

	// Week rows land first; the plan_state flip to breakdown is the marker
	// that the step finished.
	if err := p.store.ReplaceWeeklyPlans(ctx, projectID, weekRows); err != nil {
		return store.Project{}, fmt.Errorf("persist weeks: %w", err)
	}

	plan := &store.MasterPlan{
		Overview: overview,
		Weeks:    planWeeks,
	}
	if err := p.store.UpdateProjectPlan(ctx, projectID, StateBreakdown, plan, len(planWeeks)); err != nil {
		return store.Project{}, fmt.Errorf("persist breakdown: %w", err)
	}

	return p.store.GetProject(ctx, projectID)
}

// Approve finalizes a fully generated plan.
func (p *Planner) Approve(ctx context.Context, projectID string) (store.Project, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, fmt.Errorf("load project: %w", err)
	}
	if project.PlanState == StateApproved {
		return store.Project{}, ErrPlanApproved
	}
	if project.PlanState != StateBreakdown {
		return store.Project{}, ErrNotReady
	}

	if err := p.store.ApprovePlan(ctx, projectID); err != nil {
		return store.Project{}, fmt.Errorf("approve plan: %w", err)
	}

	return p.store.GetProject(ctx, projectID)
}

// Resume continues an interrupted generation from whatever the database
// holds. It never re-runs a finished step and stops before approval, which
// stays an explicit learner action.
func (p *Planner) Resume(ctx context.Context, projectID string) (store.Project, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, fmt.Errorf("load project: %w", err)
	}

	switch project.PlanState {
	case StateApproved:
		return store.Project{}, ErrPlanApproved
	case StateBreakdown:
		return project, nil
	case StateOverview:
		return p.GenerateBreakdown(ctx, projectID)
	default:
		if _, err := p.GenerateOverview(ctx, projectID); err != nil {
			return store.Project{}, err
		}
		return p.GenerateBreakdown(ctx, projectID)
	}
}

func (p *Planner) withRetry(ctx context.Context, step string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= stepAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			log.Printf("planner: %s attempt %d failed: %v", step, attempt, err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("%s generation failed: %w", step, lastErr)
}
