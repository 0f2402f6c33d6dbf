package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"ruby/api/internal/authpw"
	"ruby/api/internal/config"
	"ruby/api/internal/export"
	"ruby/api/internal/search"
	"ruby/api/internal/store"
)

// fakeStore is an in-memory dataStore. It also satisfies authpw.UserStore so
// the auth endpoints can run against it.
type fakeStore struct {
	mu sync.Mutex

	users         map[string]store.User
	emailIndex    map[string]string
	verifications map[string]string // token -> userID
	resets        map[string]string // token -> userID
	revokedJTIs   map[string]bool

	projects      map[string]store.Project
	weeks         map[string][]store.WeeklyPlan // projectID -> ordered weeks
	conversations map[string]store.Conversation
	messages      []store.Message
	artifacts     map[string]store.CodeArtifact
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[string]store.User{},
		emailIndex:    map[string]string{},
		verifications: map[string]string{},
		resets:        map[string]string{},
		revokedJTIs:   map[string]bool{},
		projects:      map[string]store.Project{},
		weeks:         map[string][]store.WeeklyPlan{},
		conversations: map[string]store.Conversation{},
		artifacts:     map[string]store.CodeArtifact{},
	}
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.emailIndex[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[id], nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	f.emailIndex[user.Email] = user.ID
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifications[token] = userID
	return nil
}

func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.verifications[token]
	if !ok {
		return sql.ErrNoRows
	}
	user := f.users[userID]
	user.IsEmailVerified = true
	f.users[userID] = user
	return nil
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTIs[jti], nil
}

func (f *fakeStore) ListProjects(ctx context.Context, userID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Project
	for _, p := range f.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) InsertProject(ctx context.Context, p store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) UpdateProject(ctx context.Context, projectID, title, goal, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	p.Title = title
	p.Goal = goal
	p.Status = status
	f.projects[projectID] = p
	return nil
}

func (f *fakeStore) SetProjectStatus(ctx context.Context, projectID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = status
	f.projects[projectID] = p
	return nil
}

func (f *fakeStore) DeleteProject(ctx context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, projectID)
	return nil
}

func (f *fakeStore) ListWeeklyPlans(ctx context.Context, projectID string) ([]store.WeeklyPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.WeeklyPlan(nil), f.weeks[projectID]...), nil
}

func (f *fakeStore) GetWeeklyPlan(ctx context.Context, projectID string, weekNumber int) (store.WeeklyPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.weeks[projectID] {
		if w.WeekNumber == weekNumber {
			return w, nil
		}
	}
	return store.WeeklyPlan{}, sql.ErrNoRows
}

func (f *fakeStore) CompleteWeek(ctx context.Context, projectID string, weekNumber int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	weeks := f.weeks[projectID]
	finished := true
	nextWeek := 0
	for i, w := range weeks {
		if w.WeekNumber == weekNumber {
			weeks[i].Status = "done"
			continue
		}
		if w.WeekNumber == weekNumber+1 {
			weeks[i].Status = "current"
			nextWeek = w.WeekNumber
			finished = false
		}
	}
	f.weeks[projectID] = weeks

	p := f.projects[projectID]
	if finished {
		p.Status = "completed"
		p.Progress = 100
	} else {
		p.CurrentWeek = nextWeek
		if p.TotalWeeks > 0 {
			p.Progress = weekNumber * 100 / p.TotalWeeks
		}
	}
	f.projects[projectID] = p
	return nextWeek, finished, nil
}

func (f *fakeStore) ListConversations(ctx context.Context, projectID string) ([]store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Conversation
	for _, c := range f.conversations {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) InsertConversation(ctx context.Context, c store.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[c.ID] = c
	return nil
}

func (f *fakeStore) TouchConversation(ctx context.Context, id string) error {
	return nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, m store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return store.Message{}, sql.ErrNoRows
}

// LatestMessages returns the newest revision per slot, in slot insert order.
func (f *fakeStore) LatestMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := map[string]store.Message{}
	var order []string
	for _, m := range f.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if prev, ok := latest[m.SlotID]; !ok {
			order = append(order, m.SlotID)
			latest[m.SlotID] = m
		} else if m.Revision > prev.Revision {
			latest[m.SlotID] = m
		}
	}
	out := make([]store.Message, 0, len(order))
	for _, slot := range order {
		out = append(out, latest[slot])
	}
	return out, nil
}

func (f *fakeStore) ListMessageRevisions(ctx context.Context, slotID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Message
	for _, m := range f.messages {
		if m.SlotID == slotID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out, nil
}

func (f *fakeStore) ListArtifacts(ctx context.Context, projectID string) ([]store.CodeArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.CodeArtifact
	for _, a := range f.artifacts {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetArtifact(ctx context.Context, id string) (store.CodeArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[id]
	if !ok {
		return store.CodeArtifact{}, sql.ErrNoRows
	}
	return a, nil
}

func (f *fakeStore) InsertArtifact(ctx context.Context, a store.CodeArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[a.ID] = a
	return nil
}

func (f *fakeStore) UpdateArtifactCommit(ctx context.Context, artifactID, title, commitHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[artifactID]
	if !ok {
		return sql.ErrNoRows
	}
	a.Title = title
	a.CommitHash = commitHash
	f.artifacts[artifactID] = a
	return nil
}

func (f *fakeStore) RecordArtifactRun(ctx context.Context, artifactID string, exitCode int, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[artifactID]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	a.RunExitCode = &exitCode
	a.RunOutput = output
	a.RanAt = &now
	f.artifacts[artifactID] = a
	return nil
}

func (f *fakeStore) SetArtifactPreviewKey(ctx context.Context, artifactID, previewKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[artifactID]
	if !ok {
		return sql.ErrNoRows
	}
	a.PreviewKey = previewKey
	f.artifacts[artifactID] = a
	return nil
}

func (f *fakeStore) DashboardSummary(ctx context.Context, userID string) (store.DashboardSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary := store.DashboardSummary{}
	for _, p := range f.projects {
		if p.UserID != userID {
			continue
		}
		summary.Projects++
		switch p.Status {
		case "active":
			summary.ActiveProjects++
		case "completed":
			summary.CompletedProjects++
		}
	}
	return summary, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]store.User{}}
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

type fakePlanner struct {
	GenerateOverviewFn  func(ctx context.Context, projectID string) (store.Project, error)
	GenerateBreakdownFn func(ctx context.Context, projectID string) (store.Project, error)
	ApproveFn           func(ctx context.Context, projectID string) (store.Project, error)
	ResumeFn            func(ctx context.Context, projectID string) (store.Project, error)
}

func (f *fakePlanner) GenerateOverview(ctx context.Context, projectID string) (store.Project, error) {
	return f.GenerateOverviewFn(ctx, projectID)
}

func (f *fakePlanner) GenerateBreakdown(ctx context.Context, projectID string) (store.Project, error) {
	return f.GenerateBreakdownFn(ctx, projectID)
}

func (f *fakePlanner) Approve(ctx context.Context, projectID string) (store.Project, error) {
	return f.ApproveFn(ctx, projectID)
}

func (f *fakePlanner) Resume(ctx context.Context, projectID string) (store.Project, error) {
	return f.ResumeFn(ctx, projectID)
}

type fakeLLM struct {
	Configured           bool
	CompleteFn           func(ctx context.Context, system, user string) (string, error)
	CompleteWithSchemaFn func(ctx context.Context, system, user string, schema map[string]any) (string, error)
	StreamFn             func(ctx context.Context, system, user string) (<-chan string, <-chan error)
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return f.CompleteFn(ctx, system, user)
}

func (f *fakeLLM) CompleteWithSchema(ctx context.Context, system, user string, schema map[string]any) (string, error) {
	return f.CompleteWithSchemaFn(ctx, system, user, schema)
}

func (f *fakeLLM) Stream(ctx context.Context, system, user string) (<-chan string, <-chan error) {
	return f.StreamFn(ctx, system, user)
}

func (f *fakeLLM) IsConfigured() bool { return f.Configured }

func (f *fakeLLM) Model() string { return "test-model" }

// fakeSnapshots keeps file versions in memory, newest history entry first.
type fakeSnapshots struct {
	mu      sync.Mutex
	seq     int
	code    map[string]string             // projectID/filename/hash -> code
	history map[string][]store.CommitInfo // projectID/filename -> commits
	repos   map[string]bool
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		code:    map[string]string{},
		history: map[string][]store.CommitInfo{},
		repos:   map[string]bool{},
	}
}

func (f *fakeSnapshots) EnsureProjectRepo(projectID, author string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[projectID] = true
	return nil
}

func (f *fakeSnapshots) SaveSnapshot(projectID, filename, code, author, message string) (store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	commit := store.CommitInfo{
		Hash:      fmt.Sprintf("hash-%d", f.seq),
		Message:   message,
		Author:    author,
		CreatedAt: time.Now(),
	}
	f.code[projectID+"/"+filename+"/"+commit.Hash] = code
	key := projectID + "/" + filename
	f.history[key] = append([]store.CommitInfo{commit}, f.history[key]...)
	return commit, nil
}

func (f *fakeSnapshots) ReadSnapshot(projectID, filename, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.code[projectID+"/"+filename+"/"+hash]
	if !ok {
		return "", fmt.Errorf("unknown snapshot %s", hash)
	}
	return code, nil
}

func (f *fakeSnapshots) FileHistory(projectID, filename string, limit int) ([]store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commits := f.history[projectID+"/"+filename]
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return append([]store.CommitInfo(nil), commits...), nil
}

type fakeSearch struct {
	mu        sync.Mutex
	projects  []search.ProjectRecord
	messages  []search.MessageRecord
	artifacts []search.ArtifactRecord
	deleted   []string
	SearchFn  func(q search.Query) search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.SearchFn != nil {
		return f.SearchFn(q)
	}
	return search.Response{Results: []search.Result{}}
}

func (f *fakeSearch) IndexProject(p search.ProjectRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, p)
}

func (f *fakeSearch) IndexMessage(m search.MessageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
}

func (f *fakeSearch) IndexArtifact(a search.ArtifactRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, a)
}

func (f *fakeSearch) DeleteProject(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeSearch) ReindexAllFromPG(ctx context.Context) {}

type fakeExporter struct {
	ExportPlanFn func(ctx context.Context, req export.Request) (*export.Result, error)
}

func (f *fakeExporter) ExportPlan(ctx context.Context, req export.Request) (*export.Result, error) {
	return f.ExportPlanFn(ctx, req)
}

type fakeMailer struct {
	Configured bool
	PlanReady  chan string // receives the recipient address
}

func (f *fakeMailer) IsConfigured() bool { return f.Configured }

func (f *fakeMailer) SendVerificationEmail(to, userName, verificationURL string) error { return nil }

func (f *fakeMailer) SendPasswordResetEmail(to, userName, resetURL string) error { return nil }

func (f *fakeMailer) SendPlanReadyEmail(to, learnerName, projectTitle string, totalWeeks int, planURL string) error {
	if f.PlanReady != nil {
		f.PlanReady <- to
	}
	return nil
}

type fakePreviews struct {
	mu      sync.Mutex
	On      bool
	objects map[string][]byte
}

func (f *fakePreviews) Enabled() bool { return f.On }

func (f *fakePreviews) PutPreview(ctx context.Context, projectID, artifactID, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	key := "previews/" + projectID + "/" + artifactID
	f.objects[key] = data
	return key, nil
}

func (f *fakePreviews) PreviewURL(ctx context.Context, key string) (string, error) {
	return "https://previews.test/" + key, nil
}

// testEnv bundles a Service wired to fakes with an HTTP test server in front.
type testEnv struct {
	service   *Service
	server    *httptest.Server
	store     *fakeStore
	sessions  *fakeSessions
	planner   *fakePlanner
	llm       *fakeLLM
	snapshots *fakeSnapshots
	search    *fakeSearch
	exporter  *fakeExporter
	mailer    *fakeMailer
	previews  *fakePreviews
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
		AppBaseURL:  "https://ruby.test",
		CORSOrigin:  "*",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:     newFakeStore(),
		sessions:  newFakeSessions(),
		planner:   &fakePlanner{},
		llm:       &fakeLLM{Configured: true},
		snapshots: newFakeSnapshots(),
		search:    &fakeSearch{},
		exporter:  &fakeExporter{},
		mailer:    &fakeMailer{},
		previews:  &fakePreviews{},
	}

	env.service = &Service{
		cfg:       testConfig(),
		store:     env.store,
		sessions:  env.sessions,
		planner:   env.planner,
		llm:       env.llm,
		snapshots: env.snapshots,
		search:    env.search,
		exporter:  env.exporter,
		mailer:    env.mailer,
		previews:  env.previews,
		authpw:    authpw.NewService(env.store),
	}

	env.server = httptest.NewServer(NewHTTPServer(env.service, "*").Handler())
	t.Cleanup(env.server.Close)
	return env
}

// seedUser creates a user and returns a live session for them.
func (env *testEnv) seedUser(t *testing.T, id, name, role string) Session {
	t.Helper()
	user := store.User{
		ID:              id,
		DisplayName:     name,
		Email:           id + "@ruby.test",
		ParentEmail:     "guardian-" + id + "@ruby.test",
		Role:            role,
		IsEmailVerified: true,
	}
	if err := env.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	session, err := env.service.CreateSession(context.Background(), id)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (env *testEnv) seedProject(t *testing.T, p store.Project) store.Project {
	t.Helper()
	if err := env.store.InsertProject(context.Background(), p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func (env *testEnv) seedWeeks(t *testing.T, projectID string, weeks ...store.WeeklyPlan) {
	t.Helper()
	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	env.store.weeks[projectID] = weeks
}

func (env *testEnv) seedConversation(t *testing.T, c store.Conversation) store.Conversation {
	t.Helper()
	if err := env.store.InsertConversation(context.Background(), c); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return c
}
