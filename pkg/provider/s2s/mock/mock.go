// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to inject inbound events in order and inspect what the caller
// sent back.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... start the code under test ...
//	sess.Emit(s2s.InputTranscript{Text: "hi"})
//	sess.Emit(s2s.TurnComplete{})
package mock

import (
	"context"
	"sync"

	"github.com/fit4rcex/coach/pkg/audio"
	"github.com/fit4rcex/coach/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of ConnectCalls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.Session.
type Session struct {
	mu sync.Mutex

	events chan s2s.Event
	ended  bool
	err    error

	// SendErr, if non-nil, is returned by SendRealtimeInput and
	// SendToolResponse.
	SendErr error

	// OnClose, if set, is called on every Close before the events channel is
	// closed.
	OnClose func()

	sent          []audio.Blob
	toolResponses []s2s.ToolResponse
	closeCalls    int
}

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 64)}
}

// Emit delivers evt to the caller. It reports false if the session has ended.
func (s *Session) Emit(evt s2s.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.events <- evt
	return true
}

// End closes the events channel as if the service disconnected. A non-nil
// err is reported by Err.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.events)
}

// SendRealtimeInput records blob.
func (s *Session) SendRealtimeInput(blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	if s.ended {
		return s2s.ErrSessionClosed
	}
	s.sent = append(s.sent, blob)
	return nil
}

// SendToolResponse records resp.
func (s *Session) SendToolResponse(resp s2s.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	if s.ended {
		return s2s.ErrSessionClosed
	}
	s.toolResponses = append(s.toolResponses, resp)
	return nil
}

// Events returns the events channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalls++
	hook := s.OnClose
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	s.End(nil)
	return nil
}

// Sent returns every payload passed to SendRealtimeInput.
func (s *Session) Sent() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Blob, len(s.sent))
	copy(out, s.sent)
	return out
}

// ToolResponses returns every response passed to SendToolResponse.
func (s *Session) ToolResponses() []s2s.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]s2s.ToolResponse, len(s.toolResponses))
	copy(out, s.toolResponses)
	return out
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Ensure Session implements s2s.Session at compile time.
var _ s2s.Session = (*Session)(nil)
