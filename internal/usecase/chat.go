package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/entity"
)

// Answerer is the answer pipeline the chat service drives.
type Answerer interface {
	Answer(ctx context.Context, query, tenantID string, opts AnswerOptions) (*entity.AnswerResponse, error)
	StreamAnswer(ctx context.Context, query, tenantID string, opts AnswerOptions) (*AnswerStream, error)
}

// ChatRequest is one user message in a conversation.
type ChatRequest struct {
	TenantID     string
	SessionID    string
	OldSessionID string
	Query        string
	Options      AnswerOptions
}

// ChatStream is a streamed chat reply.
type ChatStream struct {
	SessionID string
	Sources   []entity.Source
	Events    <-chan entity.StreamEvent
}

// ChatService answers questions within a conversation session.
type ChatService struct {
	sessions *SessionManager
	answers  Answerer
	logger   *zap.Logger
}

func NewChatService(sessions *SessionManager, answers Answerer, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{sessions: sessions, answers: answers, logger: logger}
}

type chatTurn struct {
	sessionID string
	relevance entity.Relevance
	summary   string
	shortcut  bool
	opts      AnswerOptions
}

func (c *ChatService) begin(ctx context.Context, req ChatRequest) (*chatTurn, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if req.TenantID == "" {
		return nil, ErrMissingTenant
	}
	turn := &chatTurn{sessionID: req.SessionID}
	if turn.sessionID == "" {
		turn.sessionID = uuid.NewString()
	}
	if req.OldSessionID != "" && req.OldSessionID != turn.sessionID {
		if err := c.sessions.ClearSession(ctx, req.OldSessionID); err != nil {
			c.logger.Warn("failed to clear previous session", zap.String("session_id", req.OldSessionID), zap.Error(err))
		}
	}

	history, err := c.sessions.History(ctx, turn.sessionID)
	if err != nil {
		c.logger.Warn("session history unavailable", zap.String("session_id", turn.sessionID), zap.Error(err))
	}
	turn.relevance = CheckRelevance(req.Query, history)

	if _, err := c.sessions.AppendTurn(ctx, turn.sessionID, entity.RoleUser, req.Query); err != nil {
		return nil, err
	}

	if turn.relevance.RequiresContext && WantsBrevity(req.Query) {
		if last, ok := LastAssistantTurn(history); ok {
			turn.shortcut = true
			turn.summary = ShortSummary(last)
		}
	}

	turn.opts = req.Options
	turn.opts.SessionID = turn.sessionID
	turn.opts.ConversationContext = turn.relevance.ContextText
	return turn, nil
}

func (c *ChatService) remember(ctx context.Context, sessionID, answer string) {
	if _, err := c.sessions.AppendTurn(context.WithoutCancel(ctx), sessionID, entity.RoleAssistant, answer); err != nil {
		c.logger.Warn("failed to store assistant turn", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Ask answers a message and records both turns in the session.
func (c *ChatService) Ask(ctx context.Context, req ChatRequest) (*entity.AnswerResponse, error) {
	start := time.Now()
	turn, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp *entity.AnswerResponse
	if turn.shortcut {
		resp = &entity.AnswerResponse{
			Answer:       turn.summary,
			Sources:      []entity.Source{},
			Confidence:   entity.ConfidenceHigh,
			ResponseTime: time.Since(start),
		}
	} else {
		resp, err = c.answers.Answer(ctx, req.Query, req.TenantID, turn.opts)
		if err != nil {
			return nil, err
		}
	}
	resp.SessionID = turn.sessionID
	resp.ContextUsed = turn.relevance.IsRelated
	c.remember(ctx, turn.sessionID, resp.Answer)
	return resp, nil
}

// AskStream is Ask with the reply streamed. The final done event carries the
// session id and whether conversation context was used.
func (c *ChatService) AskStream(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	start := time.Now()
	turn, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan entity.StreamEvent)
	if turn.shortcut {
		go func() {
			defer close(out)
			words := strings.Split(turn.summary, " ")
			for i, w := range words {
				if i < len(words)-1 {
					w += " "
				}
				if !send(ctx, out, entity.StreamEvent{Type: entity.EventToken, Content: w}) {
					return
				}
			}
			c.remember(ctx, turn.sessionID, turn.summary)
			send(ctx, out, entity.StreamEvent{Type: entity.EventDone, Done: &entity.AnswerResponse{
				Answer:       turn.summary,
				Sources:      []entity.Source{},
				Confidence:   entity.ConfidenceHigh,
				ResponseTime: time.Since(start),
				SessionID:    turn.sessionID,
				ContextUsed:  turn.relevance.IsRelated,
			}})
		}()
		return &ChatStream{SessionID: turn.sessionID, Sources: []entity.Source{}, Events: out}, nil
	}

	stream, err := c.answers.StreamAnswer(ctx, req.Query, req.TenantID, turn.opts)
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(out)
		for ev := range stream.Events {
			if ev.Type == entity.EventDone && ev.Done != nil {
				ev.Done.SessionID = turn.sessionID
				ev.Done.ContextUsed = turn.relevance.IsRelated
				c.remember(ctx, turn.sessionID, ev.Done.Answer)
			}
			if !send(ctx, out, ev) {
				// drain so the producer can exit
				for range stream.Events {
				}
				return
			}
		}
	}()
	return &ChatStream{SessionID: turn.sessionID, Sources: stream.Sources, Events: out}, nil
}
