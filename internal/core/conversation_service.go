package core

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gwi.com/insight-chat/internal/observability"
	"gwi.com/insight-chat/internal/store"
)

// ConversationStore is the persistence the conversation service needs.
type ConversationStore interface {
	StateStore
	CreateUser(externalUserID, passwordHash string) (*store.User, error)
	GetUserByExternalID(externalUserID string) (*store.User, error)
}

type ConversationOptions struct {
	DefaultModel      string
	HighlightDuration time.Duration
	SettleDelay       time.Duration
	Scheduler         Scheduler
}

// ConversationService hands out one Engine per user. Engines are created on
// first use from the persisted state and live until Close.
type ConversationService struct {
	dbStore ConversationStore
	backend AnalysisBackend
	metrics *observability.Metrics
	opts    ConversationOptions

	mu      sync.Mutex
	engines map[int64]*Engine
	closed  bool
}

func NewConversationService(db ConversationStore, backend AnalysisBackend, metrics *observability.Metrics, opts ConversationOptions) *ConversationService {
	return &ConversationService{
		dbStore: db,
		backend: backend,
		metrics: metrics,
		opts:    opts,
		engines: map[int64]*Engine{},
	}
}

func (s *ConversationService) CreateUser(externalUserID, passwordHash string) (*store.User, error) {
	return s.dbStore.CreateUser(externalUserID, passwordHash)
}

func (s *ConversationService) GetUserByExternalID(externalUserID string) (*store.User, error) {
	return s.dbStore.GetUserByExternalID(externalUserID)
}

// Conversation returns the user's engine, loading it on first use.
func (s *ConversationService) Conversation(userID int64) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrEngineClosed
	}
	if e, ok := s.engines[userID]; ok {
		return e, nil
	}

	view := NewViewCoordinator(s.opts.Scheduler, s.opts.HighlightDuration, 0)
	e, err := NewEngine(userID, s.dbStore, s.backend, view, EngineOptions{
		Scheduler:    s.opts.Scheduler,
		SettleDelay:  s.opts.SettleDelay,
		DefaultModel: s.opts.DefaultModel,
		Metrics:      s.metrics,
	})
	if err != nil {
		view.Close()
		return nil, fmt.Errorf("failed to open conversation for user %d: %w", userID, err)
	}
	s.engines[userID] = e
	log.Printf("Opened conversation for user %d", userID)
	return e, nil
}

// Close shuts down every open conversation.
func (s *ConversationService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, e := range s.engines {
		e.Close()
		delete(s.engines, id)
	}
	log.Println("All conversations closed.")
}
