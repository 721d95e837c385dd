package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

const (
	sessionKeyPrefix = "chat_session:"
	recentTurnWindow = 4
)

var contextKeywords = map[string]bool{
	"it": true, "this": true, "that": true, "these": true, "those": true,
	"above": true, "previous": true, "earlier": true, "before": true,
	"mentioned": true, "said": true, "told": true, "explained": true,
	"more": true, "details": true, "elaborate": true, "clarify": true,
	"short": true, "inshort": true, "summary": true, "summarize": true,
	"again": true, "repeat": true, "also": true, "furthermore": true,
}

// SessionManager keeps conversation turns in the key-value cache. Every
// mutation goes through CacheRepository.Update so concurrent appends to one
// session never lose a turn.
type SessionManager struct {
	cache  repository.CacheRepository
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionManager creates a SessionManager. A nil cache disables
// persistence; every session then looks empty.
func NewSessionManager(cache repository.CacheRepository, ttl time.Duration, logger *zap.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

// Get returns the stored session or ErrNotFound.
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*entity.Session, error) {
	if m.cache == nil {
		return nil, repository.ErrNotFound
	}
	raw, ok, err := m.cache.Get(ctx, sessionKey(sessionID))
	if err != nil {
		m.logger.Warn("session read failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, repository.ErrNotFound
	}
	if !ok {
		return nil, repository.ErrNotFound
	}
	var s entity.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &s, nil
}

// History returns the turns of a session, oldest first. Unknown and expired
// sessions have no turns.
func (m *SessionManager) History(ctx context.Context, sessionID string) ([]entity.Turn, error) {
	s, err := m.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Turns, nil
}

// AppendTurn adds a turn, creating the session when absent and refreshing
// its TTL.
func (m *SessionManager) AppendTurn(ctx context.Context, sessionID string, role entity.Role, content string) (*entity.Session, error) {
	now := m.now().UTC()
	var updated entity.Session
	apply := func(current []byte) ([]byte, error) {
		updated = entity.Session{ID: sessionID, CreatedAt: now}
		if len(current) > 0 {
			if err := json.Unmarshal(current, &updated); err != nil {
				return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
			}
		}
		updated.Turns = append(updated.Turns, entity.Turn{Role: role, Content: content, Timestamp: now})
		updated.LastActivity = now
		return json.Marshal(&updated)
	}

	if m.cache == nil {
		if _, err := apply(nil); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	if err := m.cache.Update(ctx, sessionKey(sessionID), m.ttl, apply); err != nil {
		if errors.Is(err, repository.ErrCacheUnavailable) {
			m.logger.Warn("session not persisted, cache unavailable", zap.String("session_id", sessionID))
			if updated.ID == "" {
				_, _ = apply(nil)
			}
			return &updated, nil
		}
		return nil, err
	}
	return &updated, nil
}

// NewSession starts an empty session, clearing oldID first when given. An
// empty newID gets a generated one.
func (m *SessionManager) NewSession(ctx context.Context, newID, oldID string) (*entity.Session, error) {
	if newID == "" {
		newID = uuid.NewString()
	}
	if oldID != "" && oldID != newID {
		if err := m.ClearSession(ctx, oldID); err != nil {
			return nil, err
		}
	}
	now := m.now().UTC()
	s := &entity.Session{ID: newID, Turns: []entity.Turn{}, CreatedAt: now, LastActivity: now}
	if m.cache == nil {
		return s, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Set(ctx, sessionKey(newID), raw, m.ttl); err != nil {
		m.logger.Warn("session not persisted", zap.String("session_id", newID), zap.Error(err))
	}
	return s, nil
}

// ClearSession deletes a session.
func (m *SessionManager) ClearSession(ctx context.Context, sessionID string) error {
	if m.cache == nil {
		return nil
	}
	if err := m.cache.Delete(ctx, sessionKey(sessionID)); err != nil && !errors.Is(err, repository.ErrCacheUnavailable) {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

// CheckRelevance decides whether query refers back to the conversation. A
// back-reference word attaches the whole history; otherwise the last two
// exchanges are attached for continuity.
func CheckRelevance(query string, history []entity.Turn) entity.Relevance {
	if len(history) == 0 {
		return entity.Relevance{}
	}
	for _, w := range queryWords(query) {
		if contextKeywords[w] {
			return entity.Relevance{IsRelated: true, RequiresContext: true, ContextText: RenderHistory(history)}
		}
	}
	recent := history
	if len(recent) > recentTurnWindow {
		recent = recent[len(recent)-recentTurnWindow:]
	}
	return entity.Relevance{ContextText: RenderHistory(recent)}
}

// RenderHistory formats turns as a context block for the model.
func RenderHistory(turns []entity.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation in this session:\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	for i, t := range turns {
		speaker := "Assistant"
		if t.Role == entity.RoleUser {
			speaker = "User"
		}
		fmt.Fprintf(&b, "\n%s: %s\n", speaker, t.Content)
		if i < len(turns)-1 {
			b.WriteString(strings.Repeat("-", 30) + "\n")
		}
	}
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	return b.String()
}

// WantsBrevity reports whether the query asks for a short form answer.
func WantsBrevity(query string) bool {
	lower := strings.ToLower(query)
	return strings.Contains(lower, "short") || strings.Contains(lower, "brief") || strings.Contains(lower, "summary") ||
		strings.Contains(lower, "summarize")
}

// LastAssistantTurn returns the content of the latest assistant turn.
func LastAssistantTurn(history []entity.Turn) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == entity.RoleAssistant {
			return history[i].Content, true
		}
	}
	return "", false
}

// ShortSummary extracts up to three leading sentences of text, capped at 300
// characters.
func ShortSummary(text string) string {
	var picked []string
	for _, s := range strings.Split(text, ". ") {
		if len([]rune(s)) > 20 {
			picked = append(picked, s)
			if len(picked) == 3 {
				break
			}
		}
	}
	if len(picked) == 0 {
		return "Here's a brief summary: " + truncateRunes(text, 200) + "..."
	}
	summary := strings.Join(picked, ". ")
	if len([]rune(summary)) > 300 {
		return truncateRunes(summary, 300) + "..."
	}
	return summary
}

func queryWords(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
