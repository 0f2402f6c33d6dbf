package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ruby/api/internal/assets"
	"ruby/api/internal/rbac"
	"ruby/api/internal/search"
	"ruby/api/internal/store"
	"ruby/api/internal/util"
)

type SaveArtifactInput struct {
	WeekNumber int    `json:"weekNumber"`
	Title      string `json:"title"`
	Language   string `json:"language"`
	Filename   string `json:"filename"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (s *Service) ListArtifacts(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifacts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		items = append(items, artifactPayload(artifact))
	}
	return items, nil
}

// CreateArtifact stores a new piece of learner code. The code itself lives in
// the project's git repository; the row tracks metadata and the commit hash.
func (s *Service) CreateArtifact(ctx context.Context, session Session, projectID string, input SaveArtifactInput) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if err := validateArtifactInput(input); err != nil {
		return nil, err
	}
	if input.WeekNumber < 1 || (project.TotalWeeks > 0 && input.WeekNumber > project.TotalWeeks) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "weekNumber is out of range", nil)
	}

	artifact := store.CodeArtifact{
		ID:         util.NewID("art"),
		ProjectID:  projectID,
		WeekNumber: input.WeekNumber,
		Title:      input.Title,
		Language:   input.Language,
		Filename:   input.Filename,
	}
	if err := s.store.InsertArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	commit, err := s.commitArtifact(session, projectID, artifact, input)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateArtifactCommit(ctx, artifact.ID, artifact.Title, commit.Hash); err != nil {
		return nil, err
	}
	artifact.CommitHash = commit.Hash

	s.indexArtifact(project, artifact)

	payload := artifactPayload(artifact)
	payload["code"] = input.Code
	return payload, nil
}

// UpdateArtifact commits a new version of the code and refreshes metadata.
func (s *Service) UpdateArtifact(ctx context.Context, session Session, artifactID string, input SaveArtifactInput) (map[string]any, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	project, err := s.ownedProject(ctx, session, artifact.ProjectID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Code) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "code is required", nil)
	}
	if title := strings.TrimSpace(input.Title); title != "" {
		artifact.Title = title
	}

	input.Filename = artifact.Filename
	commit, err := s.commitArtifact(session, artifact.ProjectID, artifact, input)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateArtifactCommit(ctx, artifact.ID, artifact.Title, commit.Hash); err != nil {
		return nil, err
	}
	artifact.CommitHash = commit.Hash

	s.indexArtifact(project, artifact)

	payload := artifactPayload(artifact)
	payload["code"] = input.Code
	return payload, nil
}

func (s *Service) GetArtifactDetail(ctx context.Context, session Session, artifactID string) (map[string]any, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, session, artifact.ProjectID, rbac.ActionRead); err != nil {
		return nil, err
	}

	payload := artifactPayload(artifact)
	if s.snapshots != nil && artifact.CommitHash != "" {
		code, err := s.snapshots.ReadSnapshot(artifact.ProjectID, artifact.Filename, artifact.CommitHash)
		if err != nil {
			return nil, err
		}
		payload["code"] = code
	}
	return payload, nil
}

func (s *Service) ArtifactHistory(ctx context.Context, session Session, artifactID string, limit int) ([]map[string]any, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, session, artifact.ProjectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return []map[string]any{}, nil
	}

	commits, err := s.snapshots.FileHistory(artifact.ProjectID, artifact.Filename, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return items, nil
}

// RecordArtifactRun stores the outcome of a run reported by the in-browser
// runner.
func (s *Service) RecordArtifactRun(ctx context.Context, session Session, artifactID string, exitCode int, output string) (map[string]any, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, session, artifact.ProjectID, rbac.ActionWrite); err != nil {
		return nil, err
	}

	if err := s.store.RecordArtifactRun(ctx, artifactID, exitCode, output); err != nil {
		return nil, err
	}
	artifact, err = s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	return artifactPayload(artifact), nil
}

// UploadArtifactPreview stores a preview image in object storage. Returns
// 404 when object storage is not part of the deployment.
func (s *Service) UploadArtifactPreview(ctx context.Context, session Session, artifactID, contentType string, data []byte) (map[string]any, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, session, artifact.ProjectID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if s.previews == nil || !s.previews.Enabled() {
		return nil, domainError(http.StatusNotFound, "PREVIEWS_DISABLED", "Previews are not enabled", nil)
	}
	if len(data) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "preview body is empty", nil)
	}

	key, err := s.previews.PutPreview(ctx, artifact.ProjectID, artifact.ID, contentType, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetArtifactPreviewKey(ctx, artifact.ID, key); err != nil {
		return nil, err
	}

	return map[string]any{"previewKey": key}, nil
}

// ArtifactPreviewURL hands out a short-lived download link for a stored
// preview.
func (s *Service) ArtifactPreviewURL(ctx context.Context, session Session, artifactID string) (map[string]any, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, session, artifact.ProjectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.previews == nil || !s.previews.Enabled() || artifact.PreviewKey == "" {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No preview available", nil)
	}

	url, err := s.previews.PreviewURL(ctx, artifact.PreviewKey)
	if err != nil {
		if errors.Is(err, assets.ErrNotConfigured) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No preview available", nil)
		}
		return nil, err
	}
	return map[string]any{"url": url}, nil
}

func (s *Service) commitArtifact(session Session, projectID string, artifact store.CodeArtifact, input SaveArtifactInput) (store.CommitInfo, error) {
	if s.snapshots == nil {
		return store.CommitInfo{}, domainError(http.StatusServiceUnavailable, "SNAPSHOTS_UNAVAILABLE", "Code storage is not available", nil)
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		message = fmt.Sprintf("Update %s", artifact.Filename)
	}
	commit, err := s.snapshots.SaveSnapshot(projectID, artifact.Filename, input.Code, session.UserName, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	return commit, nil
}

func (s *Service) indexArtifact(project store.Project, artifact store.CodeArtifact) {
	if s.search == nil {
		return
	}
	s.search.IndexArtifact(search.ArtifactRecord{
		ID:         artifact.ID,
		Title:      artifact.Title,
		Filename:   artifact.Filename,
		Language:   artifact.Language,
		ProjectID:  artifact.ProjectID,
		UserID:     project.UserID,
		WeekNumber: artifact.WeekNumber,
	})
}

func validateArtifactInput(input SaveArtifactInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if strings.TrimSpace(input.Filename) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "filename is required", nil)
	}
	if strings.TrimSpace(input.Code) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "code is required", nil)
	}
	return nil
}

func artifactPayload(artifact store.CodeArtifact) map[string]any {
	payload := map[string]any{
		"id":         artifact.ID,
		"projectId":  artifact.ProjectID,
		"weekNumber": artifact.WeekNumber,
		"title":      artifact.Title,
		"language":   artifact.Language,
		"filename":   artifact.Filename,
		"commitHash": artifact.CommitHash,
	}
	if artifact.RunExitCode != nil {
		payload["runExitCode"] = *artifact.RunExitCode
		payload["runOutput"] = artifact.RunOutput
	}
	if artifact.RanAt != nil {
		payload["ranAt"] = artifact.RanAt
	}
	if artifact.PreviewKey != "" {
		payload["hasPreview"] = true
	}
	return payload
}
