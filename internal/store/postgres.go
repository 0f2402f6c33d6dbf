package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, COALESCE(parent_email, ''), COALESCE(password_hash, ''), role, is_email_verified, created_at, updated_at
		FROM users
		WHERE email=$1 AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.ParentEmail, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, COALESCE(parent_email, ''), COALESCE(password_hash, ''), role, is_email_verified, created_at, updated_at
		FROM users
		WHERE id=$1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.ParentEmail, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, parent_email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''))
	`, user.ID, user.DisplayName, user.Email, user.ParentEmail, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, COALESCE(u.parent_email, ''), u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.ParentEmail, &user.Role)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "learner"
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, COALESCE(goal, ''), status, plan_state, master_plan, current_week, total_weeks, progress, created_at, updated_at
		FROM projects
		WHERE user_id=$1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var item Project
	var planJSON []byte
	if err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Title,
		&item.Goal,
		&item.Status,
		&item.PlanState,
		&planJSON,
		&item.CurrentWeek,
		&item.TotalWeeks,
		&item.Progress,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	if len(planJSON) > 0 {
		var plan MasterPlan
		if err := json.Unmarshal(planJSON, &plan); err != nil {
			return Project{}, fmt.Errorf("decode master plan: %w", err)
		}
		item.MasterPlan = &plan
	}
	return item, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, COALESCE(goal, ''), status, plan_state, master_plan, current_week, total_weeks, progress, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID)
	item, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, sql.ErrNoRows
		}
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, title, goal, status, plan_state, total_weeks)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`, item.ID, item.UserID, item.Title, item.Goal, item.Status, item.PlanState, item.TotalWeeks)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, title, goal, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET title=$2, goal=NULLIF($3, ''), status=$4, updated_at=NOW()
		WHERE id=$1
	`, projectID, title, goal, status)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// UpdateProjectPlan persists the master plan and plan state in a single
// statement. The planner relies on this write landing atomically so a
// restarted generation resumes from a consistent step.
func (s *PostgresStore) UpdateProjectPlan(ctx context.Context, projectID, planState string, plan *MasterPlan, totalWeeks int) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode master plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE projects
		SET plan_state=$2, master_plan=$3, total_weeks=$4, updated_at=NOW()
		WHERE id=$1
	`, projectID, planState, planJSON, totalWeeks)
	if err != nil {
		return fmt.Errorf("update project plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetProjectStatus(ctx context.Context, projectID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET status=$2, updated_at=NOW() WHERE id=$1`, projectID, status)
	if err != nil {
		return fmt.Errorf("set project status: %w", err)
	}
	return nil
}

// ApprovePlan flips the project into its active state and promotes week 1.
func (s *PostgresStore) ApprovePlan(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE projects
		SET plan_state='approved', status='active', current_week=1, updated_at=NOW()
		WHERE id=$1
	`, projectID); err != nil {
		return fmt.Errorf("approve plan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE weekly_plans SET status='current', updated_at=NOW()
		WHERE project_id=$1 AND week_number=1
	`, projectID); err != nil {
		return fmt.Errorf("promote first week: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWeeklyPlans(ctx context.Context, projectID string) ([]WeeklyPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, week_number, title, objectives, concepts, COALESCE(deliverable, ''), status, created_at, updated_at
		FROM weekly_plans
		WHERE project_id=$1
		ORDER BY week_number ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list weekly plans: %w", err)
	}
	defer rows.Close()

	items := make([]WeeklyPlan, 0)
	for rows.Next() {
		var item WeeklyPlan
		var objectives, concepts []byte
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.WeekNumber, &item.Title, &objectives, &concepts, &item.Deliverable, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan weekly plan: %w", err)
		}
		if err := json.Unmarshal(objectives, &item.Objectives); err != nil {
			return nil, fmt.Errorf("decode objectives: %w", err)
		}
		if err := json.Unmarshal(concepts, &item.Concepts); err != nil {
			return nil, fmt.Errorf("decode concepts: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weekly plans: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWeeklyPlan(ctx context.Context, projectID string, weekNumber int) (WeeklyPlan, error) {
	var item WeeklyPlan
	var objectives, concepts []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, week_number, title, objectives, concepts, COALESCE(deliverable, ''), status, created_at, updated_at
		FROM weekly_plans
		WHERE project_id=$1 AND week_number=$2
	`, projectID, weekNumber).Scan(&item.ID, &item.ProjectID, &item.WeekNumber, &item.Title, &objectives, &concepts, &item.Deliverable, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return WeeklyPlan{}, err
	}
	if err := json.Unmarshal(objectives, &item.Objectives); err != nil {
		return WeeklyPlan{}, fmt.Errorf("decode objectives: %w", err)
	}
	if err := json.Unmarshal(concepts, &item.Concepts); err != nil {
		return WeeklyPlan{}, fmt.Errorf("decode concepts: %w", err)
	}
	return item, nil
}

// ReplaceWeeklyPlans swaps the full week set for a project. Used when the
// breakdown is generated or regenerated before approval.
func (s *PostgresStore) ReplaceWeeklyPlans(ctx context.Context, projectID string, weeks []WeeklyPlan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin weekly plans tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM weekly_plans WHERE project_id=$1`, projectID); err != nil {
		return fmt.Errorf("clear weekly plans: %w", err)
	}

	for _, week := range weeks {
		objectives, err := json.Marshal(week.Objectives)
		if err != nil {
			return fmt.Errorf("encode objectives: %w", err)
		}
		concepts, err := json.Marshal(week.Concepts)
		if err != nil {
			return fmt.Errorf("encode concepts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO weekly_plans (id, project_id, week_number, title, objectives, concepts, deliverable, status)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		`, week.ID, week.ProjectID, week.WeekNumber, week.Title, objectives, concepts, week.Deliverable, week.Status); err != nil {
			return fmt.Errorf("insert weekly plan %d: %w", week.WeekNumber, err)
		}
	}

	return tx.Commit()
}

// CompleteWeek marks the given week done, promotes the next week, and
// recomputes project progress. Returns the updated current week number and
// whether the project finished.
func (s *PostgresStore) CompleteWeek(ctx context.Context, projectID string, weekNumber int) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin complete week tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE weekly_plans SET status='done', updated_at=NOW()
		WHERE project_id=$1 AND week_number=$2 AND status='current'
	`, projectID, weekNumber)
	if err != nil {
		return 0, false, fmt.Errorf("complete week: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("complete week result: %w", err)
	}
	if affected == 0 {
		return 0, false, sql.ErrNoRows
	}

	var totalWeeks int
	if err := tx.QueryRowContext(ctx, `SELECT total_weeks FROM projects WHERE id=$1`, projectID).Scan(&totalWeeks); err != nil {
		return 0, false, fmt.Errorf("read total weeks: %w", err)
	}

	finished := weekNumber >= totalWeeks
	nextWeek := weekNumber
	if !finished {
		nextWeek = weekNumber + 1
		if _, err := tx.ExecContext(ctx, `
			UPDATE weekly_plans SET status='current', updated_at=NOW()
			WHERE project_id=$1 AND week_number=$2
		`, projectID, nextWeek); err != nil {
			return 0, false, fmt.Errorf("promote next week: %w", err)
		}
	}

	progress := 0
	if totalWeeks > 0 {
		progress = weekNumber * 100 / totalWeeks
	}
	status := "active"
	if finished {
		status = "completed"
		progress = 100
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE projects SET current_week=$2, progress=$3, status=$4, updated_at=NOW()
		WHERE id=$1
	`, projectID, nextWeek, progress, status); err != nil {
		return 0, false, fmt.Errorf("update project progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit complete week: %w", err)
	}
	return nextWeek, finished, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, projectID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, kind, title, week_number, created_at, updated_at
		FROM conversations
		WHERE project_id=$1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		var item Conversation
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Kind, &item.Title, &item.WeekNumber, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var item Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, kind, title, week_number, created_at, updated_at
		FROM conversations
		WHERE id=$1
	`, conversationID).Scan(&item.ID, &item.ProjectID, &item.Kind, &item.Title, &item.WeekNumber, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertConversation(ctx context.Context, item Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, project_id, kind, title, week_number)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.ProjectID, item.Kind, item.Title, item.WeekNumber)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at=NOW() WHERE id=$1`, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, slot_id, revision, role, content, model)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, item.ID, item.ConversationID, item.SlotID, item.Revision, item.Role, item.Content, item.Model)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var item Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, slot_id, revision, role, content, COALESCE(model, ''), created_at
		FROM messages
		WHERE id=$1
	`, messageID).Scan(&item.ID, &item.ConversationID, &item.SlotID, &item.Revision, &item.Role, &item.Content, &item.Model, &item.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return item, nil
}

// LatestMessages returns the newest revision of every slot in chronological
// order, which is what the chat transcript renders.
func (s *PostgresStore) LatestMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, slot_id, revision, role, content, COALESCE(model, ''), created_at, slot_created
		FROM (
			SELECT DISTINCT ON (slot_id) id, conversation_id, slot_id, revision, role, content, model,
				created_at, MIN(created_at) OVER (PARTITION BY slot_id) AS slot_created
			FROM messages
			WHERE conversation_id=$1
			ORDER BY slot_id, revision DESC
		) latest
		ORDER BY slot_created ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		var slotCreated time.Time
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.SlotID, &item.Revision, &item.Role, &item.Content, &item.Model, &item.CreatedAt, &slotCreated); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListMessageRevisions(ctx context.Context, slotID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, slot_id, revision, role, content, COALESCE(model, ''), created_at
		FROM messages
		WHERE slot_id=$1
		ORDER BY revision ASC
	`, slotID)
	if err != nil {
		return nil, fmt.Errorf("list message revisions: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.SlotID, &item.Revision, &item.Role, &item.Content, &item.Model, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message revisions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, projectID string) ([]CodeArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, week_number, title, language, filename, COALESCE(commit_hash, ''), run_exit_code, COALESCE(run_output, ''), ran_at, COALESCE(preview_key, ''), created_at, updated_at
		FROM code_artifacts
		WHERE project_id=$1
		ORDER BY updated_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	items := make([]CodeArtifact, 0)
	for rows.Next() {
		var item CodeArtifact
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.WeekNumber, &item.Title, &item.Language, &item.Filename, &item.CommitHash, &item.RunExitCode, &item.RunOutput, &item.RanAt, &item.PreviewKey, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, artifactID string) (CodeArtifact, error) {
	var item CodeArtifact
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, week_number, title, language, filename, COALESCE(commit_hash, ''), run_exit_code, COALESCE(run_output, ''), ran_at, COALESCE(preview_key, ''), created_at, updated_at
		FROM code_artifacts
		WHERE id=$1
	`, artifactID).Scan(&item.ID, &item.ProjectID, &item.WeekNumber, &item.Title, &item.Language, &item.Filename, &item.CommitHash, &item.RunExitCode, &item.RunOutput, &item.RanAt, &item.PreviewKey, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return CodeArtifact{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertArtifact(ctx context.Context, item CodeArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO code_artifacts (id, project_id, week_number, title, language, filename, commit_hash)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, item.ID, item.ProjectID, item.WeekNumber, item.Title, item.Language, item.Filename, item.CommitHash)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateArtifactCommit(ctx context.Context, artifactID, title, commitHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE code_artifacts
		SET title=$2, commit_hash=$3, updated_at=NOW()
		WHERE id=$1
	`, artifactID, title, commitHash)
	if err != nil {
		return fmt.Errorf("update artifact commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordArtifactRun(ctx context.Context, artifactID string, exitCode int, output string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE code_artifacts
		SET run_exit_code=$2, run_output=$3, ran_at=NOW(), updated_at=NOW()
		WHERE id=$1
	`, artifactID, exitCode, output)
	if err != nil {
		return fmt.Errorf("record artifact run: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetArtifactPreviewKey(ctx context.Context, artifactID, previewKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE code_artifacts SET preview_key=$2, updated_at=NOW() WHERE id=$1
	`, artifactID, previewKey)
	if err != nil {
		return fmt.Errorf("set artifact preview key: %w", err)
	}
	return nil
}

func (s *PostgresStore) DashboardSummary(ctx context.Context, userID string) (DashboardSummary, error) {
	var summary DashboardSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status='active'),
			COUNT(*) FILTER (WHERE status='completed')
		FROM projects
		WHERE user_id=$1
	`, userID).Scan(&summary.Projects, &summary.ActiveProjects, &summary.CompletedProjects)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("dashboard project counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM weekly_plans wp
		JOIN projects p ON p.id = wp.project_id
		WHERE p.user_id=$1 AND wp.status='done'
	`, userID).Scan(&summary.WeeksDone)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("dashboard week counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM code_artifacts ca
		JOIN projects p ON p.id = ca.project_id
		WHERE p.user_id=$1
	`, userID).Scan(&summary.Artifacts)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("dashboard artifact counts: %w", err)
	}

	return summary, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
