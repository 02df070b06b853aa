// Package session runs the tutor-visible actions of one tutoring session
// (quiz generation, grading, hints and chat) under a per-session lock,
// threading the session's State through each of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/trajectory"
)

// Store is the narrow session persistence the service needs.
// store.SessionRepo satisfies it.
type Store interface {
	Create(ctx context.Context, sess store.Session) error
	Get(ctx context.Context, id string) (*store.Session, error)
	AppendMessage(ctx context.Context, msg store.Message) (int64, error)
	Messages(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)
}

// State is what an action knows about its session.
type State struct {
	Session store.Session
	// Messages holds the most recent messages, oldest first.
	Messages     []store.Message
	Interactions int
	HintsUsed    int
}

// Create starts a new session.
func (s *Service) Create(ctx context.Context, subject string) (*store.Session, error) {
	sess := store.Session{ID: uuid.NewString(), Subject: subject, CreatedAt: time.Now().UTC()}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("session created")
	return &sess, nil
}

// Get returns a session and all of its messages.
func (s *Service) Get(ctx context.Context, id string) (*store.Session, []store.Message, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.sessions.Messages(ctx, id, 0)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

// load reads the session's State, creating the session first when create
// is set and it does not exist yet.
func (s *Service) load(ctx context.Context, id string, create bool) (*State, error) {
	sess, err := s.sessions.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound) && create:
		sess = &store.Session{ID: id, CreatedAt: time.Now().UTC()}
		if err := s.createSession(ctx, *sess); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	st := &State{Session: *sess}
	if st.Messages, err = s.sessions.Messages(ctx, id, trajectory.RecentMessages); err != nil {
		return nil, err
	}
	if st.Interactions, err = s.sessions.CountMessages(ctx, id); err != nil {
		return nil, err
	}
	if st.HintsUsed, err = s.hints.CountBySession(ctx, id); err != nil {
		return nil, err
	}
	return st, nil
}

// loadOrNew is load without persisting: an unknown id yields an empty,
// unsaved state and isNew set.
func (s *Service) loadOrNew(ctx context.Context, id string) (st *State, isNew bool, err error) {
	st, err = s.load(ctx, id, false)
	if errors.Is(err, store.ErrNotFound) {
		return &State{Session: store.Session{ID: id, CreatedAt: time.Now().UTC()}}, true, nil
	}
	return st, false, err
}

func (s *Service) createSession(ctx context.Context, sess store.Session) error {
	if err := s.sessions.Create(ctx, sess); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// priorPerformance returns nil when the topic has no record yet.
func (s *Service) priorPerformance(ctx context.Context, sessionID, topic string) (*store.Performance, error) {
	p, err := s.performance.Get(ctx, sessionID, topic)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return p, err
}
