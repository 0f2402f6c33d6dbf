package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ruby/api/internal/auth"
	"ruby/api/internal/authpw"
	"ruby/api/internal/config"
	"ruby/api/internal/export"
	"ruby/api/internal/planner"
	"ruby/api/internal/rbac"
	"ruby/api/internal/search"
	"ruby/api/internal/store"
	"ruby/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListProjects(context.Context, string) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error
	UpdateProject(ctx context.Context, projectID, title, goal, status string) error
	SetProjectStatus(ctx context.Context, projectID, status string) error
	DeleteProject(context.Context, string) error

	ListWeeklyPlans(context.Context, string) ([]store.WeeklyPlan, error)
	GetWeeklyPlan(ctx context.Context, projectID string, weekNumber int) (store.WeeklyPlan, error)
	CompleteWeek(ctx context.Context, projectID string, weekNumber int) (int, bool, error)

	ListConversations(context.Context, string) ([]store.Conversation, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	InsertConversation(context.Context, store.Conversation) error
	TouchConversation(context.Context, string) error

	InsertMessage(context.Context, store.Message) error
	GetMessage(context.Context, string) (store.Message, error)
	LatestMessages(context.Context, string) ([]store.Message, error)
	ListMessageRevisions(context.Context, string) ([]store.Message, error)

	ListArtifacts(context.Context, string) ([]store.CodeArtifact, error)
	GetArtifact(context.Context, string) (store.CodeArtifact, error)
	InsertArtifact(context.Context, store.CodeArtifact) error
	UpdateArtifactCommit(ctx context.Context, artifactID, title, commitHash string) error
	RecordArtifactRun(ctx context.Context, artifactID string, exitCode int, output string) error
	SetArtifactPreviewKey(ctx context.Context, artifactID, previewKey string) error

	DashboardSummary(context.Context, string) (store.DashboardSummary, error)
	Ping(ctx context.Context) error
}

// sessionStore keeps refresh sessions. Redis-backed in production, with a
// Postgres adapter as the fallback when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type planService interface {
	GenerateOverview(ctx context.Context, projectID string) (store.Project, error)
	GenerateBreakdown(ctx context.Context, projectID string) (store.Project, error)
	Approve(ctx context.Context, projectID string) (store.Project, error)
	Resume(ctx context.Context, projectID string) (store.Project, error)
}

type chatModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteWithSchema(ctx context.Context, system, user string, schema map[string]any) (string, error)
	Stream(ctx context.Context, system, user string) (<-chan string, <-chan error)
	IsConfigured() bool
	Model() string
}

type snapshotStore interface {
	EnsureProjectRepo(projectID, author string) error
	SaveSnapshot(projectID, filename, code, author, message string) (store.CommitInfo, error)
	ReadSnapshot(projectID, filename, hash string) (string, error)
	FileHistory(projectID, filename string, limit int) ([]store.CommitInfo, error)
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexProject(p search.ProjectRecord)
	IndexMessage(m search.MessageRecord)
	IndexArtifact(a search.ArtifactRecord)
	DeleteProject(id string)
	ReindexAllFromPG(ctx context.Context)
}

type planExporter interface {
	ExportPlan(ctx context.Context, req export.Request) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendPlanReadyEmail(to, learnerName, projectTitle string, totalWeeks int, planURL string) error
}

type previewStore interface {
	Enabled() bool
	PutPreview(ctx context.Context, projectID, artifactID, contentType string, data []byte) (string, error)
	PreviewURL(ctx context.Context, key string) (string, error)
}

// Deps bundles the collaborating services.
type Deps struct {
	Sessions  sessionStore
	Planner   planService
	LLM       chatModel
	Snapshots snapshotStore
	Search    searcher
	Exporter  planExporter
	Mailer    mailer
	Previews  previewStore
	AuthPW    *authpw.Service
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	planner   planService
	llm       chatModel
	snapshots snapshotStore
	search    searcher
	exporter  planExporter
	mailer    mailer
	previews  previewStore
	authpw    *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = pgSessions{store: dataStore}
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		planner:   deps.Planner,
		llm:       deps.LLM,
		snapshots: deps.Snapshots,
		search:    deps.Search,
		exporter:  deps.Exporter,
		mailer:    deps.Mailer,
		previews:  deps.Previews,
		authpw:    deps.AuthPW,
	}
}

// pgSessions adapts the relational store to the sessionStore interface.
type pgSessions struct {
	store *store.PostgresStore
}

func (p pgSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

// Bootstrap runs startup work that needs the full stack: rebuilding the
// search indexes from Postgres when Meilisearch comes up empty.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues tokens for an already-authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Dashboard(ctx context.Context, session Session) (map[string]any, error) {
	summary, err := s.store.DashboardSummary(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.ListProjects(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectSummary(project))
	}

	return map[string]any{
		"summary": map[string]any{
			"projects":          summary.Projects,
			"activeProjects":    summary.ActiveProjects,
			"completedProjects": summary.CompletedProjects,
			"weeksDone":         summary.WeeksDone,
			"artifacts":         summary.Artifacts,
		},
		"projects": items,
	}, nil
}

func (s *Service) Search(ctx context.Context, text, filterType, projectID string, limit, offset int, session Session) (search.Response, error) {
	if filterType != "" {
		switch search.ResultType(filterType) {
		case search.ResultProject, search.ResultMessage, search.ResultArtifact:
		default:
			return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be project, message, or artifact", nil)
		}
	}
	return s.search.Search(search.Query{
		Text:            text,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		UserID:          session.UserID,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

// Projects

func (s *Service) ListProjects(ctx context.Context, session Session) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectSummary(project))
	}
	return items, nil
}

// CreateProject starts a project in the scoping state with its scoping
// conversation already in place.
func (s *Service) CreateProject(ctx context.Context, session Session, title string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Project"
	}

	project := store.Project{
		ID:        util.NewID("prj"),
		UserID:    session.UserID,
		Title:     title,
		Status:    "scoping",
		PlanState: planner.StateNone,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}

	conversation := store.Conversation{
		ID:        util.NewID("conv"),
		ProjectID: project.ID,
		Kind:      "scoping",
		Title:     "What do you want to build?",
	}
	if err := s.store.InsertConversation(ctx, conversation); err != nil {
		return nil, err
	}

	if s.snapshots != nil {
		if err := s.snapshots.EnsureProjectRepo(project.ID, session.UserName); err != nil {
			return nil, err
		}
	}

	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:     project.ID,
			Title:  project.Title,
			Goal:   project.Goal,
			UserID: project.UserID,
			Status: project.Status,
		})
	}

	payload := projectSummary(project)
	payload["scopingConversationId"] = conversation.ID
	return payload, nil
}

func (s *Service) GetProjectDetail(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}

	weeks, err := s.store.ListWeeklyPlans(ctx, projectID)
	if err != nil {
		return nil, err
	}

	payload := projectSummary(project)
	payload["weeks"] = weekList(weeks)
	if project.MasterPlan != nil && project.MasterPlan.Overview != nil {
		payload["overview"] = overviewPayload(project.MasterPlan.Overview)
	}
	return payload, nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID, title, goal, status string) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}

	if title = strings.TrimSpace(title); title == "" {
		title = project.Title
	}
	if goal = strings.TrimSpace(goal); goal == "" {
		goal = project.Goal
	}
	if status = strings.TrimSpace(status); status == "" {
		status = project.Status
	} else if !validStatusChange(project.Status, status) {
		return nil, domainError(http.StatusConflict, "INVALID_STATUS", "Cannot move project from "+project.Status+" to "+status, nil)
	}

	if err := s.store.UpdateProject(ctx, projectID, title, goal, status); err != nil {
		return nil, err
	}

	project, err = s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:     project.ID,
			Title:  project.Title,
			Goal:   project.Goal,
			UserID: project.UserID,
			Status: project.Status,
		})
	}
	return projectSummary(project), nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

// Plan lifecycle

func (s *Service) GetPlan(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	weeks, err := s.store.ListWeeklyPlans(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return planPayload(project, weeks), nil
}

func (s *Service) GeneratePlanOverview(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.planner.GenerateOverview(ctx, projectID)
	if err != nil {
		return nil, planError(err)
	}
	return planPayload(project, nil), nil
}

func (s *Service) GeneratePlanBreakdown(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.planner.GenerateBreakdown(ctx, projectID)
	if err != nil {
		return nil, planError(err)
	}
	weeks, err := s.store.ListWeeklyPlans(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return planPayload(project, weeks), nil
}

// ApprovePlan locks the plan, activates the project, and notifies the
// learner's guardian when one is on file.
func (s *Service) ApprovePlan(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionApprove); err != nil {
		return nil, err
	}
	project, err := s.planner.Approve(ctx, projectID)
	if err != nil {
		return nil, planError(err)
	}
	weeks, err := s.store.ListWeeklyPlans(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.notifyGuardian(ctx, session, project)

	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:     project.ID,
			Title:  project.Title,
			Goal:   project.Goal,
			UserID: project.UserID,
			Status: project.Status,
		})
	}

	return planPayload(project, weeks), nil
}

func (s *Service) ResumePlan(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.planner.Resume(ctx, projectID)
	if err != nil {
		return nil, planError(err)
	}
	weeks, err := s.store.ListWeeklyPlans(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return planPayload(project, weeks), nil
}

func (s *Service) ExportPlan(ctx context.Context, session Session, projectID string) (*export.Result, error) {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	result, err := s.exporter.ExportPlan(ctx, export.Request{ProjectID: projectID})
	if err != nil {
		if errors.Is(err, export.ErrNoPlan) {
			return nil, domainError(http.StatusConflict, "NO_PLAN", "Generate a plan before exporting", nil)
		}
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
		}
		return nil, err
	}
	return result, nil
}

// SendVerificationMail delivers the signup verification link. No-op when
// SMTP is off; the HTTP layer hands the token back directly in that case.
func (s *Service) SendVerificationMail(email, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/verify-email?token=" + token
	go func() {
		_ = s.mailer.SendVerificationEmail(email, userName, url)
	}()
}

func (s *Service) SendPasswordResetMail(ctx context.Context, email, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return
	}
	url := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
	go func() {
		_ = s.mailer.SendPasswordResetEmail(email, user.DisplayName, url)
	}()
}

func (s *Service) notifyGuardian(ctx context.Context, session Session, project store.Project) {
	if !s.SMTPConfigured() {
		return
	}
	user, err := s.store.GetUserByID(ctx, project.UserID)
	if err != nil || user.ParentEmail == "" {
		return
	}
	planURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/projects/" + project.ID + "/plan"
	go func() {
		_ = s.mailer.SendPlanReadyEmail(user.ParentEmail, user.DisplayName, project.Title, project.TotalWeeks, planURL)
	}()
}

// Weeks

func (s *Service) ListWeeks(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	weeks, err := s.store.ListWeeklyPlans(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return weekList(weeks), nil
}

// CompleteWeek marks the current week done and advances the project. Only
// the current week can be completed.
func (s *Service) CompleteWeek(ctx context.Context, session Session, projectID string, weekNumber int) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if project.PlanState != planner.StateApproved {
		return nil, domainError(http.StatusConflict, "PLAN_NOT_APPROVED", "Approve the plan before completing weeks", nil)
	}

	week, err := s.store.GetWeeklyPlan(ctx, projectID, weekNumber)
	if err != nil {
		return nil, err
	}
	if week.Status != "current" {
		return nil, domainError(http.StatusConflict, "WEEK_NOT_CURRENT", "Only the current week can be completed", nil)
	}

	nextWeek, finished, err := s.store.CompleteWeek(ctx, projectID, weekNumber)
	if err != nil {
		return nil, err
	}

	project, err = s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	payload := projectSummary(project)
	payload["finished"] = finished
	if !finished {
		payload["nextWeek"] = nextWeek
	}
	return payload, nil
}

// ownedProject loads a project and verifies the caller may act on it.
// Admins can reach any project; everyone else only their own.
func (s *Service) ownedProject(ctx context.Context, session Session, projectID string, action rbac.Action) (store.Project, error) {
	if !s.Can(session.Role, action) {
		return store.Project{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if project.UserID != session.UserID && rbac.Normalize(session.Role) != rbac.RoleAdmin {
		return store.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return project, nil
}

func planError(err error) error {
	switch {
	case errors.Is(err, planner.ErrPlanApproved):
		return domainError(http.StatusConflict, "PLAN_APPROVED", "Plan is already approved", nil)
	case errors.Is(err, planner.ErrNotReady):
		return domainError(http.StatusConflict, "PLAN_NOT_READY", "Previous plan step has not finished", nil)
	case errors.Is(err, planner.ErrNoGoal):
		return domainError(http.StatusConflict, "NO_GOAL", "Scope a goal with the mentor first", nil)
	case err == nil:
		return nil
	default:
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		return domainError(http.StatusBadGateway, "PLAN_GENERATION_FAILED", "Plan generation failed", nil)
	}
}

func validStatusChange(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case "active":
		return to == "paused" || to == "completed"
	case "paused":
		return to == "active"
	default:
		return false
	}
}

func projectSummary(project store.Project) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"title":       project.Title,
		"goal":        project.Goal,
		"status":      project.Status,
		"planState":   project.PlanState,
		"currentWeek": project.CurrentWeek,
		"totalWeeks":  project.TotalWeeks,
		"progress":    project.Progress,
	}
}

func overviewPayload(overview *store.PlanOverview) map[string]any {
	return map[string]any{
		"title":      overview.Title,
		"summary":    overview.Summary,
		"skills":     overview.Skills,
		"totalWeeks": overview.TotalWeeks,
		"milestones": overview.Milestones,
	}
}

func weekList(weeks []store.WeeklyPlan) []map[string]any {
	items := make([]map[string]any, 0, len(weeks))
	for _, week := range weeks {
		items = append(items, map[string]any{
			"weekNumber":  week.WeekNumber,
			"title":       week.Title,
			"objectives":  week.Objectives,
			"concepts":    week.Concepts,
			"deliverable": week.Deliverable,
			"status":      week.Status,
		})
	}
	return items
}

func planPayload(project store.Project, weeks []store.WeeklyPlan) map[string]any {
	payload := projectSummary(project)
	if project.MasterPlan != nil && project.MasterPlan.Overview != nil {
		payload["overview"] = overviewPayload(project.MasterPlan.Overview)
	}
	if weeks != nil {
		payload["weeks"] = weekList(weeks)
	}
	return payload
}
