package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mkatche/chatflow/internal/config"
	"github.com/mkatche/chatflow/internal/history"
)

// Manager hands out sessions keyed by client identity and closes them on
// shutdown.
type Manager struct {
	store    *history.Store
	browser  *history.Browser
	source   config.Source
	open     Opener
	log      *zap.Logger
	window   int
	onCommit func(user, assistant history.Turn)

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(p Params) *Manager {
	return &Manager{
		store:    p.Store,
		browser:  p.Browser,
		source:   p.Source,
		open:     p.Open,
		log:      p.Log,
		window:   p.Window,
		onCommit: p.OnCommit,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for key, creating and activating one if absent.
func (m *Manager) Get(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := New(Params{
		Store:    m.store,
		Browser:  m.browser,
		Source:   m.source,
		Open:     m.open,
		Log:      m.log,
		Window:   m.window,
		OnCommit: m.onCommit,
	})
	s.Activate()
	m.sessions[key] = s
	return s
}

func (m *Manager) Close(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
