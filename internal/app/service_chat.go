package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ruby/api/internal/llm"
	"ruby/api/internal/rbac"
	"ruby/api/internal/search"
	"ruby/api/internal/store"
	"ruby/api/internal/util"
)

const scopingSystemPrompt = `You are Ruby, a friendly coding mentor for kids aged 8-14.
You are helping a learner figure out what they want to build over the next few weeks.
Ask one question at a time, keep replies short and encouraging, and never use jargon
without explaining it. When the learner has described something concrete enough
to plan (what it is, roughly what it should do), set ready_to_plan to true and fill
in goal_title and goal_summary with a crisp restatement of their idea. Until then,
keep ready_to_plan false.`

const mentorSystemPrompt = `You are Ruby, a friendly coding mentor for kids aged 8-14.
The learner is working through week %d of their project "%s".
This week's focus: %s. Objectives: %s.
Answer their questions with short, concrete explanations and small code examples.
Celebrate progress and never write the whole solution for them.`

// transcriptLimit caps how much history is replayed to the model.
const transcriptLimit = 30

func (s *Service) ListConversations(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	conversations, err := s.store.ListConversations(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(conversations))
	for _, conv := range conversations {
		items = append(items, conversationPayload(conv))
	}
	return items, nil
}

// CreateConversation opens a weekly chat thread. The scoping conversation is
// created with the project and is never created through this path.
func (s *Service) CreateConversation(ctx context.Context, session Session, projectID string, weekNumber int) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID, rbac.ActionChat)
	if err != nil {
		return nil, err
	}
	if weekNumber < 1 || weekNumber > project.TotalWeeks {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "weekNumber is out of range", nil)
	}

	week, err := s.store.GetWeeklyPlan(ctx, projectID, weekNumber)
	if err != nil {
		return nil, err
	}

	conversation := store.Conversation{
		ID:         util.NewID("conv"),
		ProjectID:  projectID,
		Kind:       "weekly",
		Title:      fmt.Sprintf("Week %d: %s", week.WeekNumber, week.Title),
		WeekNumber: &weekNumber,
	}
	if err := s.store.InsertConversation(ctx, conversation); err != nil {
		return nil, err
	}
	return conversationPayload(conversation), nil
}

func (s *Service) ConversationMessages(ctx context.Context, session Session, conversationID string) ([]map[string]any, error) {
	_, _, err := s.ownedConversation(ctx, session, conversationID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.LatestMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, messagePayload(msg))
	}
	return items, nil
}

// SendMessage records the learner's message and produces the mentor's reply.
// In a scoping conversation the reply is schema-constrained; when the model
// reports the goal is concrete enough, the project advances to planning.
func (s *Service) SendMessage(ctx context.Context, session Session, conversationID, content string) (map[string]any, error) {
	conversation, project, err := s.ownedConversation(ctx, session, conversationID, rbac.ActionChat)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if !s.llm.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "LLM_UNAVAILABLE", "The mentor is not available right now", nil)
	}

	userMsg, err := s.appendMessage(ctx, conversationID, "user", content, "")
	if err != nil {
		return nil, err
	}

	transcript, err := s.transcript(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var reply store.Message
	payload := map[string]any{}

	if conversation.Kind == "scoping" {
		raw, err := s.llm.CompleteWithSchema(ctx, scopingSystemPrompt, transcript, llm.ScopingReplySchema())
		if err != nil {
			return nil, llmError(err)
		}
		scoped, err := llm.DecodeScopingReply(raw)
		if err != nil {
			return nil, domainError(http.StatusBadGateway, "LLM_BAD_RESPONSE", "The mentor's reply could not be understood", nil)
		}

		reply, err = s.appendMessage(ctx, conversationID, "assistant", scoped.Reply, s.llm.Model())
		if err != nil {
			return nil, err
		}

		if scoped.ReadyToPlan && project.Status == "scoping" {
			if err := s.store.UpdateProject(ctx, project.ID, scoped.GoalTitle, scoped.GoalSummary, "planning"); err != nil {
				return nil, err
			}
			payload["readyToPlan"] = true
			payload["goalTitle"] = scoped.GoalTitle
			payload["goalSummary"] = scoped.GoalSummary
			if s.search != nil {
				s.search.IndexProject(search.ProjectRecord{
					ID:     project.ID,
					Title:  scoped.GoalTitle,
					Goal:   scoped.GoalSummary,
					UserID: project.UserID,
					Status: "planning",
				})
			}
		}
	} else {
		system, err := s.mentorPrompt(ctx, project, conversation)
		if err != nil {
			return nil, err
		}
		text, err := s.llm.Complete(ctx, system, transcript)
		if err != nil {
			return nil, llmError(err)
		}
		reply, err = s.appendMessage(ctx, conversationID, "assistant", text, s.llm.Model())
		if err != nil {
			return nil, err
		}
	}

	_ = s.store.TouchConversation(ctx, conversationID)
	s.indexMessage(project, userMsg)
	s.indexMessage(project, reply)

	payload["message"] = messagePayload(userMsg)
	payload["reply"] = messagePayload(reply)
	return payload, nil
}

// StreamMessage records the learner's message and streams the mentor's reply
// chunk by chunk. The assembled reply is persisted once the stream ends, so
// an interrupted stream leaves no assistant row behind.
func (s *Service) StreamMessage(ctx context.Context, session Session, conversationID, content string, send func(chunk string) error) (map[string]any, error) {
	conversation, project, err := s.ownedConversation(ctx, session, conversationID, rbac.ActionChat)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if conversation.Kind != "weekly" {
		return nil, domainError(http.StatusConflict, "NOT_STREAMABLE", "Scoping chats do not stream", nil)
	}
	if !s.llm.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "LLM_UNAVAILABLE", "The mentor is not available right now", nil)
	}

	userMsg, err := s.appendMessage(ctx, conversationID, "user", content, "")
	if err != nil {
		return nil, err
	}

	transcript, err := s.transcript(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	system, err := s.mentorPrompt(ctx, project, conversation)
	if err != nil {
		return nil, err
	}

	chunks, errs := s.llm.Stream(ctx, system, transcript)
	var full strings.Builder
	for chunk := range chunks {
		full.WriteString(chunk)
		if err := send(chunk); err != nil {
			return nil, err
		}
	}
	if err := <-errs; err != nil {
		return nil, llmError(err)
	}

	reply, err := s.appendMessage(ctx, conversationID, "assistant", full.String(), s.llm.Model())
	if err != nil {
		return nil, err
	}
	_ = s.store.TouchConversation(ctx, conversationID)
	s.indexMessage(project, userMsg)
	s.indexMessage(project, reply)

	return map[string]any{
		"message": messagePayload(userMsg),
		"reply":   messagePayload(reply),
	}, nil
}

// RegenerateMessage produces a fresh revision of an assistant reply. The old
// revision stays on record.
func (s *Service) RegenerateMessage(ctx context.Context, session Session, messageID string) (map[string]any, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.Role != "assistant" {
		return nil, domainError(http.StatusConflict, "NOT_REGENERABLE", "Only mentor replies can be regenerated", nil)
	}

	conversation, project, err := s.ownedConversation(ctx, session, message.ConversationID, rbac.ActionChat)
	if err != nil {
		return nil, err
	}
	if !s.llm.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "LLM_UNAVAILABLE", "The mentor is not available right now", nil)
	}

	transcript, err := s.transcriptBefore(ctx, message.ConversationID, message.SlotID)
	if err != nil {
		return nil, err
	}

	var text string
	if conversation.Kind == "scoping" {
		raw, err := s.llm.CompleteWithSchema(ctx, scopingSystemPrompt, transcript, llm.ScopingReplySchema())
		if err != nil {
			return nil, llmError(err)
		}
		scoped, err := llm.DecodeScopingReply(raw)
		if err != nil {
			return nil, domainError(http.StatusBadGateway, "LLM_BAD_RESPONSE", "The mentor's reply could not be understood", nil)
		}
		text = scoped.Reply
	} else {
		system, err := s.mentorPrompt(ctx, project, conversation)
		if err != nil {
			return nil, err
		}
		text, err = s.llm.Complete(ctx, system, transcript)
		if err != nil {
			return nil, llmError(err)
		}
	}

	revisions, err := s.store.ListMessageRevisions(ctx, message.SlotID)
	if err != nil {
		return nil, err
	}
	nextRevision := 1
	for _, rev := range revisions {
		if rev.Revision >= nextRevision {
			nextRevision = rev.Revision + 1
		}
	}

	revised := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: message.ConversationID,
		SlotID:         message.SlotID,
		Revision:       nextRevision,
		Role:           "assistant",
		Content:        text,
		Model:          s.llm.Model(),
	}
	if err := s.store.InsertMessage(ctx, revised); err != nil {
		return nil, err
	}
	_ = s.store.TouchConversation(ctx, message.ConversationID)
	s.indexMessage(project, revised)

	return messagePayload(revised), nil
}

func (s *Service) MessageRevisions(ctx context.Context, session Session, slotID string) ([]map[string]any, error) {
	revisions, err := s.store.ListMessageRevisions(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if len(revisions) == 0 {
		return []map[string]any{}, nil
	}
	if _, _, err := s.ownedConversation(ctx, session, revisions[0].ConversationID, rbac.ActionRead); err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(revisions))
	for _, rev := range revisions {
		items = append(items, messagePayload(rev))
	}
	return items, nil
}

func (s *Service) appendMessage(ctx context.Context, conversationID, role, content, model string) (store.Message, error) {
	id := util.NewID("msg")
	message := store.Message{
		ID:             id,
		ConversationID: conversationID,
		SlotID:         id,
		Revision:       1,
		Role:           role,
		Content:        content,
		Model:          model,
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return store.Message{}, err
	}
	return message, nil
}

// transcript renders the latest revision of each slot as a plain dialogue.
func (s *Service) transcript(ctx context.Context, conversationID string) (string, error) {
	return s.transcriptBefore(ctx, conversationID, "")
}

func (s *Service) transcriptBefore(ctx context.Context, conversationID, stopSlotID string) (string, error) {
	messages, err := s.store.LatestMessages(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if len(messages) > transcriptLimit {
		messages = messages[len(messages)-transcriptLimit:]
	}

	var b strings.Builder
	for _, msg := range messages {
		if stopSlotID != "" && msg.SlotID == stopSlotID {
			break
		}
		speaker := "Learner"
		if msg.Role == "assistant" {
			speaker = "Mentor"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, msg.Content)
	}
	return b.String(), nil
}

func (s *Service) mentorPrompt(ctx context.Context, project store.Project, conversation store.Conversation) (string, error) {
	weekNumber := project.CurrentWeek
	if conversation.WeekNumber != nil {
		weekNumber = *conversation.WeekNumber
	}
	week, err := s.store.GetWeeklyPlan(ctx, project.ID, weekNumber)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(mentorSystemPrompt, week.WeekNumber, project.Title, week.Title, strings.Join(week.Objectives, "; ")), nil
}

func (s *Service) ownedConversation(ctx context.Context, session Session, conversationID string, action rbac.Action) (store.Conversation, store.Project, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, store.Project{}, err
	}
	project, err := s.ownedProject(ctx, session, conversation.ProjectID, action)
	if err != nil {
		return store.Conversation{}, store.Project{}, err
	}
	return conversation, project, nil
}

func (s *Service) indexMessage(project store.Project, message store.Message) {
	if s.search == nil {
		return
	}
	s.search.IndexMessage(search.MessageRecord{
		ID:        message.SlotID,
		Content:   message.Content,
		Role:      message.Role,
		ProjectID: project.ID,
		UserID:    project.UserID,
	})
}

func llmError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domainError(http.StatusBadGateway, "LLM_ERROR", "The mentor could not reply", nil)
}

func conversationPayload(conversation store.Conversation) map[string]any {
	payload := map[string]any{
		"id":        conversation.ID,
		"projectId": conversation.ProjectID,
		"kind":      conversation.Kind,
		"title":     conversation.Title,
	}
	if conversation.WeekNumber != nil {
		payload["weekNumber"] = *conversation.WeekNumber
	}
	return payload
}

func messagePayload(message store.Message) map[string]any {
	payload := map[string]any{
		"id":             message.ID,
		"conversationId": message.ConversationID,
		"slotId":         message.SlotID,
		"revision":       message.Revision,
		"role":           message.Role,
		"content":        message.Content,
	}
	if message.Model != "" {
		payload["model"] = message.Model
	}
	return payload
}
