// Package test provides a scripted in-memory Source for exercising the
// ingestion loop without a browser.
package test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sw33tLie/chatscope/pkg/source"
)

// Message is the element type served by Source.
type Message struct {
	Meta string
	Text string
}

// Source serves whatever messages were last set. Failures can be queued to
// simulate a re-rendering page.
type Source struct {
	mu sync.Mutex

	incoming []source.Element
	outgoing []source.Element

	incomingFailures []error
	outgoingFailures []error
	panics           int

	incomingCalls int
	outgoingCalls int

	// OnCycle, when set, is called at the start of every ListIncoming with the
	// 1-based call number.
	OnCycle func(call int)
}

func New() *Source { return &Source{} }

func (s *Source) Name() string { return "test" }

// SetIncoming replaces the rendered incoming messages.
func (s *Source) SetIncoming(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incoming = toElements(msgs)
}

// SetOutgoing replaces the rendered outgoing messages.
func (s *Source) SetOutgoing(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoing = toElements(msgs)
}

// FailIncoming makes the next n ListIncoming calls return ErrUnavailable.
func (s *Source) FailIncoming(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.incomingFailures = append(s.incomingFailures, fmt.Errorf("stale element reference: %w", source.ErrUnavailable))
	}
}

// FailIncomingWith makes the next ListIncoming call return err.
func (s *Source) FailIncomingWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incomingFailures = append(s.incomingFailures, err)
}

// FailOutgoing makes the next n ListOutgoing calls return ErrUnavailable.
func (s *Source) FailOutgoing(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.outgoingFailures = append(s.outgoingFailures, fmt.Errorf("navigation in progress: %w", source.ErrUnavailable))
	}
}

// PanicIncoming makes the next n ListIncoming calls panic.
func (s *Source) PanicIncoming(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics += n
}

// IncomingCalls returns how many times ListIncoming was called.
func (s *Source) IncomingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incomingCalls
}

func (s *Source) ListIncoming(ctx context.Context) ([]source.Element, error) {
	s.mu.Lock()
	s.incomingCalls++
	call := s.incomingCalls
	hook := s.OnCycle
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics > 0 {
		s.panics--
		panic("test source: injected panic")
	}
	if len(s.incomingFailures) > 0 {
		err := s.incomingFailures[0]
		s.incomingFailures = s.incomingFailures[1:]
		return nil, err
	}
	return append([]source.Element(nil), s.incoming...), nil
}

func (s *Source) ListOutgoing(ctx context.Context) ([]source.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoingCalls++
	if len(s.outgoingFailures) > 0 {
		err := s.outgoingFailures[0]
		s.outgoingFailures = s.outgoingFailures[1:]
		return nil, err
	}
	return append([]source.Element(nil), s.outgoing...), nil
}

func (s *Source) Extract(el source.Element) (source.Record, bool) {
	m, ok := el.(Message)
	if !ok || m.Text == "" || m.Meta == "" {
		return source.Record{}, false
	}
	ts, sender := source.ParseMetadata(m.Meta)
	return source.Record{Sender: sender, Timestamp: ts, Text: m.Text, Meta: m.Meta}, true
}

// ErrBoom is a non-transient failure for tests.
var ErrBoom = errors.New("test source: boom")

func toElements(msgs []Message) []source.Element {
	out := make([]source.Element, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m)
	}
	return out
}
