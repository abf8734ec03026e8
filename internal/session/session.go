// Package session owns the lifecycle of one interactive conversation: at
// most one live stream at a time, cancel-before-reopen, and commit of the
// finished exchange to history. Transport callbacks never touch session
// state directly; they enqueue updates that a per-turn owner goroutine
// applies.
package session

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mkatche/chatflow/internal/ai"
	"github.com/mkatche/chatflow/internal/config"
	"github.com/mkatche/chatflow/internal/history"
)

type State int

const (
	StateInitializing State = iota
	StateReady
	StateStreaming
	StateClosed
)

var (
	ErrNotReady      = errors.New("session: not ready")
	ErrSessionClosed = errors.New("session: closed")
	ErrBlankTurn     = errors.New("session: blank input")
)

// Opener dispatches one generation request. Injectable so tests can supply a
// fake transport.
type Opener func(ctx context.Context, provider ai.ProviderID, messages []ai.Message, set ai.Settings) (ai.StreamChannel, error)

// Update is one snapshot of the accumulating reply. Success is only
// meaningful when Finished is true.
type Update struct {
	Text     string
	Finished bool
	Success  bool
}

// Stream is the consumer-facing view of one submitted turn. Updates closes
// after the final update; Cancel abandons the turn and returns the session
// to Ready.
type Stream struct {
	updates chan Update
	cancel  func()
}

func (t *Stream) Updates() <-chan Update { return t.updates }
func (t *Stream) Cancel()                { t.cancel() }

// push delivers without ever blocking the owner goroutine: when the consumer
// lags, the oldest buffered snapshot is evicted, since the newer one
// supersedes it.
func (t *Stream) push(u Update) {
	for {
		select {
		case t.updates <- u:
			return
		default:
			select {
			case <-t.updates:
			default:
			}
		}
	}
}

const defaultWindow = 20

type Session struct {
	store    *history.Store
	browser  *history.Browser
	source   config.Source
	open     Opener
	log      *zap.Logger
	window   int
	onCommit func(user, assistant history.Turn)

	// submitMu serializes Submit end to end so the previous channel is
	// always cancelled before the next one is opened, even with
	// concurrent callers.
	submitMu sync.Mutex

	mu       sync.Mutex
	state    State
	turns    []history.Turn // most recent first
	channel  ai.StreamChannel
	stopTurn context.CancelFunc
}

type Params struct {
	Store   *history.Store
	Browser *history.Browser
	Source  config.Source
	Open    Opener
	Log     *zap.Logger
	Window  int

	// OnCommit receives each successfully persisted exchange, with store
	// ids assigned. Called from the turn's owner goroutine.
	OnCommit func(user, assistant history.Turn)
}

// New returns a session in Initializing; call Activate once the caller has
// attached whatever view it needs. Input submitted before activation is
// rejected, which absorbs a stray empty query racing the attach.
func New(p Params) *Session {
	if p.Open == nil {
		p.Open = ai.OpenChannel
	}
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	if p.Window <= 0 {
		p.Window = defaultWindow
	}
	return &Session{
		store:    p.Store,
		browser:  p.Browser,
		source:   p.Source,
		open:     p.Open,
		log:      p.Log,
		window:   p.Window,
		onCommit: p.OnCommit,
		state:    StateInitializing,
	}
}

func (s *Session) Activate() {
	s.mu.Lock()
	if s.state == StateInitializing {
		s.state = StateReady
	}
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns the session's conversation snapshot, most recent first.
func (s *Session) Turns() []history.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Turn(nil), s.turns...)
}

// Submit sends one user turn. Any still-live stream is cancelled before the
// new request is dispatched. The configuration source is re-read on every
// call, so settings changes apply to the next turn without restart.
func (s *Session) Submit(ctx context.Context, text string) (*Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrBlankTurn
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	case StateInitializing:
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	prev, prevStop := s.channel, s.stopTurn
	s.channel, s.stopTurn = nil, nil
	if s.state == StateStreaming {
		s.state = StateReady
	}
	sessionID := s.sessionIDLocked()
	msgs := s.promptLocked(text)
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	if prevStop != nil {
		prevStop()
	}

	set := s.source.Snapshot()
	ch, err := s.open(ctx, set.Provider, msgs, set)
	if err != nil {
		return nil, err
	}

	turnCtx, stop := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		ch.Cancel()
		stop()
		return nil, ErrSessionClosed
	}
	s.state = StateStreaming
	s.channel = ch
	s.stopTurn = stop
	s.mu.Unlock()

	stream := &Stream{
		updates: make(chan Update, 16),
		cancel:  func() { s.abandon(ch, stop) },
	}
	queue := make(chan Update, 128)
	userTurn := history.NewTextTurn(sessionID, history.RoleUser, text, string(set.Provider))

	go s.ownTurn(turnCtx, ch, stream, queue, userTurn)

	ch.Subscribe(func(txt string, finished bool) {
		u := Update{Text: txt, Finished: finished}
		if finished {
			u.Success = ch.Success()
			select {
			case queue <- u:
			case <-turnCtx.Done():
			}
			return
		}
		// A dropped intermediate snapshot is superseded by the next one.
		select {
		case queue <- u:
		default:
		}
	})

	return stream, nil
}

// ownTurn is the single goroutine allowed to act on stream updates: it
// forwards them to the consumer and settles the turn on the terminal one.
func (s *Session) ownTurn(ctx context.Context, ch ai.StreamChannel, stream *Stream, queue <-chan Update, userTurn history.Turn) {
	defer close(stream.updates)
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-queue:
			stream.push(u)
			if !u.Finished {
				continue
			}
			s.settle(ch, u, userTurn)
			return
		}
	}
}

// settle commits a successful exchange. A channel that is no longer the
// session's current one was cancelled and must not commit; a failed stream
// is shown but never persisted.
func (s *Session) settle(ch ai.StreamChannel, final Update, userTurn history.Turn) {
	s.mu.Lock()
	current := s.channel == ch
	if current {
		s.channel = nil
		s.stopTurn = nil
		if s.state == StateStreaming {
			s.state = StateReady
		}
	}
	s.mu.Unlock()

	if !current || !final.Success {
		return
	}

	assistant := history.NewTextTurn(userTurn.Session, history.RoleAssistant, final.Text, userTurn.Provider)
	if err := s.store.Append(context.Background(), &userTurn, &assistant); err != nil {
		s.log.Error("session: history append failed",
			zap.String("session", userTurn.Session), zap.Error(err))
		return
	}

	s.mu.Lock()
	// Displayed list keeps the answer on top of its question; prompt
	// assembly reverses this back to chronological order.
	s.turns = append([]history.Turn{assistant, userTurn}, s.turns...)
	snapshot := append([]history.Turn(nil), s.turns...)
	s.mu.Unlock()

	if s.browser != nil {
		s.browser.Push(snapshot)
	}
	if s.onCommit != nil {
		s.onCommit(userTurn, assistant)
	}
}

// abandon is the Stream.Cancel path.
func (s *Session) abandon(ch ai.StreamChannel, stop context.CancelFunc) {
	s.mu.Lock()
	if s.channel == ch {
		s.channel = nil
		s.stopTurn = nil
		if s.state == StateStreaming {
			s.state = StateReady
		}
	}
	s.mu.Unlock()
	ch.Cancel()
	stop()
}

// SwitchTo replaces the session's conversation with a stored one, cancelling
// any live stream first.
func (s *Session) SwitchTo(conv history.Conversation) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	prev, prevStop := s.channel, s.stopTurn
	s.channel, s.stopTurn = nil, nil
	s.turns = append([]history.Turn(nil), conv.Turns...)
	if s.state == StateStreaming {
		s.state = StateReady
	}
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	if prevStop != nil {
		prevStop()
	}
	return nil
}

// Clear starts a fresh conversation in the same session object.
func (s *Session) Clear() error {
	return s.SwitchTo(history.Conversation{})
}

// Close cancels any live stream and rejects all further input.
func (s *Session) Close() {
	s.mu.Lock()
	prev, prevStop := s.channel, s.stopTurn
	s.channel, s.stopTurn = nil, nil
	s.state = StateClosed
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	if prevStop != nil {
		prevStop()
	}
}

const sessionAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// sessionIDLocked reuses the conversation's id when one exists; a fresh
// conversation mints one lazily, so nothing is allocated until a turn is
// actually submitted.
func (s *Session) sessionIDLocked() string {
	for _, t := range s.turns {
		if strings.TrimSpace(t.Session) != "" {
			return t.Session
		}
	}
	n := 5 + rand.Intn(5)
	b := make([]byte, n)
	for i := range b {
		b[i] = sessionAlphabet[rand.Intn(len(sessionAlphabet))]
	}
	return string(b)
}

// promptLocked builds the provider message list: prior text turns in
// chronological order, capped to the context window, plus the new user text.
// Ordering goes by timestamp rather than list position because live and
// store-loaded conversations lay out each exchange differently.
func (s *Session) promptLocked(text string) []ai.Message {
	ordered := append([]history.Turn(nil), s.turns...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Role == history.RoleUser && b.Role == history.RoleAssistant
	})

	msgs := make([]ai.Message, 0, len(ordered)+1)
	for _, t := range ordered {
		if t.Kind != history.KindText || t.Content == "" {
			continue
		}
		msgs = append(msgs, ai.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, ai.Message{Role: string(ai.RoleUser), Content: text})
	if len(msgs) > s.window {
		msgs = msgs[len(msgs)-s.window:]
	}
	return msgs
}
