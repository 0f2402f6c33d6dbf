package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ruby/api/internal/store"
)

// fakeStore keeps one project in memory and records plan writes.
type fakeStore struct {
	project store.Project
	weeks   []store.WeeklyPlan

	planWrites int
	weekWrites int
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if projectID != f.project.ID {
		return store.Project{}, errors.New("not found")
	}
	return f.project, nil
}

func (f *fakeStore) UpdateProjectPlan(ctx context.Context, projectID, planState string, plan *store.MasterPlan, totalWeeks int) error {
	f.planWrites++
	f.project.PlanState = planState
	f.project.MasterPlan = plan
	f.project.TotalWeeks = totalWeeks
	return nil
}

func (f *fakeStore) ReplaceWeeklyPlans(ctx context.Context, projectID string, weeks []store.WeeklyPlan) error {
	f.weekWrites++
	f.weeks = weeks
	return nil
}

func (f *fakeStore) ApprovePlan(ctx context.Context, projectID string) error {
	f.project.PlanState = StateApproved
	f.project.Status = "active"
	f.project.CurrentWeek = 1
	return nil
}

// fakeLLM returns canned schema responses, optionally failing first.
type fakeLLM struct {
	overviewJSON  string
	breakdownJSON string
	failuresLeft  int
	calls         int
}

const validOverview = `{"title":"Space Dodger","summary":"A little arcade game.","skills":["loops","sprites"],"total_weeks":2,"milestones":["moving ship","full game"]}`

const validBreakdown = `{"weeks":[
	{"week_number":1,"title":"Moving ship","objectives":["draw the ship","read key presses"],"concepts":["coordinates"],"deliverable":"a ship that moves"},
	{"week_number":2,"title":"Asteroids","objectives":["spawn rocks","detect collisions"],"concepts":["lists"],"deliverable":"a playable game"}
]}`

func (f *fakeLLM) CompleteWithSchema(ctx context.Context, system, user string, schema map[string]any) (string, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return "", fmt.Errorf("upstream error 503")
	}
	props, _ := schema["properties"].(map[string]any)
	if _, isBreakdown := props["weeks"]; isBreakdown {
		return f.breakdownJSON, nil
	}
	return f.overviewJSON, nil
}

func newFakes(planState string) (*fakeStore, *fakeLLM) {
	fs := &fakeStore{
		project: store.Project{
			ID:        "proj_1",
			UserID:    "user_1",
			Title:     "My Game",
			Goal:      "Build a space dodging game in Python",
			Status:    "planning",
			PlanState: planState,
		},
	}
	if planState == StateOverview || planState == StateBreakdown {
		fs.project.MasterPlan = &store.MasterPlan{
			Overview: &store.PlanOverview{Title: "Space Dodger", Summary: "s", TotalWeeks: 2},
		}
		fs.project.TotalWeeks = 2
	}
	return fs, &fakeLLM{overviewJSON: validOverview, breakdownJSON: validBreakdown}
}

func TestGenerateOverview(t *testing.T) {
	fs, fl := newFakes(StateNone)
	p := New(fs, fl)

	project, err := p.GenerateOverview(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("GenerateOverview() error = %v", err)
	}
	if project.PlanState != StateOverview {
		t.Fatalf("plan state = %q, want overview", project.PlanState)
	}
	if project.MasterPlan == nil || project.MasterPlan.Overview == nil {
		t.Fatal("overview not persisted")
	}
	if project.MasterPlan.Overview.Title != "Space Dodger" {
		t.Fatalf("overview title = %q", project.MasterPlan.Overview.Title)
	}
	if project.TotalWeeks != 2 {
		t.Fatalf("total weeks = %d, want 2", project.TotalWeeks)
	}
}

func TestGenerateOverviewRequiresGoal(t *testing.T) {
	fs, fl := newFakes(StateNone)
	fs.project.Goal = ""
	p := New(fs, fl)

	if _, err := p.GenerateOverview(context.Background(), "proj_1"); !errors.Is(err, ErrNoGoal) {
		t.Fatalf("error = %v, want ErrNoGoal", err)
	}
}

func TestGenerateOverviewRetriesTransientFailure(t *testing.T) {
	fs, fl := newFakes(StateNone)
	fl.failuresLeft = 1
	p := New(fs, fl)

	project, err := p.GenerateOverview(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("GenerateOverview() error = %v", err)
	}
	if project.PlanState != StateOverview {
		t.Fatalf("plan state = %q, want overview", project.PlanState)
	}
	if fl.calls != 2 {
		t.Fatalf("llm calls = %d, want 2", fl.calls)
	}
}

func TestGenerateOverviewLeavesStateOnPersistentFailure(t *testing.T) {
	fs, fl := newFakes(StateNone)
	fl.failuresLeft = 10
	p := New(fs, fl)

	if _, err := p.GenerateOverview(context.Background(), "proj_1"); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if fs.planWrites != 0 {
		t.Fatalf("plan writes = %d, want 0 on failure", fs.planWrites)
	}
	if fs.project.PlanState != StateNone {
		t.Fatalf("plan state changed to %q on failure", fs.project.PlanState)
	}
}

func TestGenerateBreakdown(t *testing.T) {
	fs, fl := newFakes(StateOverview)
	p := New(fs, fl)

	project, err := p.GenerateBreakdown(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("GenerateBreakdown() error = %v", err)
	}
	if project.PlanState != StateBreakdown {
		t.Fatalf("plan state = %q, want breakdown", project.PlanState)
	}
	if len(project.MasterPlan.Weeks) != 2 {
		t.Fatalf("plan weeks = %d, want 2", len(project.MasterPlan.Weeks))
	}
	if len(fs.weeks) != 2 {
		t.Fatalf("week rows = %d, want 2", len(fs.weeks))
	}
	if fs.weeks[0].Status != "upcoming" {
		t.Fatalf("week 1 status = %q, want upcoming", fs.weeks[0].Status)
	}
}

func TestGenerateBreakdownRequiresOverview(t *testing.T) {
	fs, fl := newFakes(StateNone)
	p := New(fs, fl)

	if _, err := p.GenerateBreakdown(context.Background(), "proj_1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady", err)
	}
}

func TestApprove(t *testing.T) {
	fs, fl := newFakes(StateBreakdown)
	p := New(fs, fl)

	project, err := p.Approve(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if project.PlanState != StateApproved {
		t.Fatalf("plan state = %q, want approved", project.PlanState)
	}
	if project.Status != "active" || project.CurrentWeek != 1 {
		t.Fatalf("project not activated: %+v", project)
	}
}

func TestApproveRejectsPartialPlan(t *testing.T) {
	fs, fl := newFakes(StateOverview)
	p := New(fs, fl)

	if _, err := p.Approve(context.Background(), "proj_1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady", err)
	}
}

func TestApproveIsIdempotentConflict(t *testing.T) {
	fs, fl := newFakes(StateBreakdown)
	p := New(fs, fl)

	if _, err := p.Approve(context.Background(), "proj_1"); err != nil {
		t.Fatalf("first Approve() error = %v", err)
	}
	if _, err := p.Approve(context.Background(), "proj_1"); !errors.Is(err, ErrPlanApproved) {
		t.Fatalf("second Approve() error = %v, want ErrPlanApproved", err)
	}
}

func TestResumeFromScratchRunsBothSteps(t *testing.T) {
	fs, fl := newFakes(StateNone)
	p := New(fs, fl)

	project, err := p.Resume(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if project.PlanState != StateBreakdown {
		t.Fatalf("plan state = %q, want breakdown", project.PlanState)
	}
	if fl.calls != 2 {
		t.Fatalf("llm calls = %d, want 2", fl.calls)
	}
}

func TestResumeAfterOverviewOnlyRunsBreakdown(t *testing.T) {
	fs, fl := newFakes(StateOverview)
	p := New(fs, fl)

	project, err := p.Resume(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if project.PlanState != StateBreakdown {
		t.Fatalf("plan state = %q, want breakdown", project.PlanState)
	}
	if fl.calls != 1 {
		t.Fatalf("llm calls = %d, want 1 (overview already stored)", fl.calls)
	}
}

func TestResumeWithCompleteBreakdownIsNoOp(t *testing.T) {
	fs, fl := newFakes(StateBreakdown)
	p := New(fs, fl)

	project, err := p.Resume(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if fl.calls != 0 {
		t.Fatalf("llm calls = %d, want 0", fl.calls)
	}
	if project.PlanState != StateBreakdown {
		t.Fatalf("plan state = %q, want breakdown", project.PlanState)
	}
}

func TestResumeApprovedPlanConflicts(t *testing.T) {
	fs, fl := newFakes(StateBreakdown)
	fs.project.PlanState = StateApproved
	p := New(fs, fl)

	if _, err := p.Resume(context.Background(), "proj_1"); !errors.Is(err, ErrPlanApproved) {
		t.Fatalf("error = %v, want ErrPlanApproved", err)
	}
}
