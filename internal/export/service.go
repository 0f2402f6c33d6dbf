package export

import (
	"context"
	"fmt"
	"time"

	"ruby/api/internal/store"
)

// DataStore is the slice of storage the export service needs.
type DataStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListWeeklyPlans(ctx context.Context, projectID string) ([]store.WeeklyPlan, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// Service renders learning plans as PDF documents.
type Service struct {
	store DataStore
}

// NewService creates a new export service.
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// ExportPlan renders the project's plan overview and weekly breakdown as a
// PDF. Projects that have not generated an overview yet cannot be exported.
func (s *Service) ExportPlan(ctx context.Context, req Request) (*Result, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	if project.MasterPlan == nil || project.MasterPlan.Overview == nil {
		return nil, ErrNoPlan
	}
	overview := project.MasterPlan.Overview

	view := PlanView{
		Title:       overview.Title,
		Goal:        project.Goal,
		Summary:     overview.Summary,
		Skills:      overview.Skills,
		Milestones:  overview.Milestones,
		TotalWeeks:  overview.TotalWeeks,
		GeneratedAt: time.Now(),
	}
	if view.Title == "" {
		view.Title = project.Title
	}

	if user, err := s.store.GetUserByID(ctx, project.UserID); err == nil {
		view.LearnerName = user.DisplayName
	}

	weeks, err := s.store.ListWeeklyPlans(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list weekly plans: %w", err)
	}
	for _, w := range weeks {
		view.Weeks = append(view.Weeks, PlanWeekView{
			WeekNumber:  w.WeekNumber,
			Title:       w.Title,
			Objectives:  w.Objectives,
			Concepts:    w.Concepts,
			Deliverable: w.Deliverable,
			Status:      w.Status,
		})
	}

	html, err := RenderPlanHTML(view)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return exportPDF(html, view.Title)
}
