// Package ingest runs the polling loop that copies newly rendered messages of
// the monitored conversation into the message store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sw33tLie/chatscope/pkg/dates"
	"github.com/sw33tLie/chatscope/pkg/source"
	"github.com/sw33tLie/chatscope/pkg/storage"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultRetryBackoff  = 2 * time.Second
	DefaultErrorBackoff  = 5 * time.Second
	DefaultSeenCacheSize = 4096
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Store is the part of *storage.DB the loop writes through.
type Store interface {
	Exists(ctx context.Context, text, meta string) (bool, error)
	Add(ctx context.Context, sender, timestamp, text, meta string, dir storage.Direction) (bool, error)
	CountIncoming(ctx context.Context, date string) (int, error)
}

// State of a Monitor.
type State int32

// ErrStopped is returned by Run on a Monitor that has already stopped.
var ErrStopped = errors.New("ingest: monitor already stopped")

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config holds everything a Monitor needs.
type Config struct {
	Source source.Source
	Store  Store

	PollInterval time.Duration // defaults to 2s if <= 0
	RetryBackoff time.Duration // after a transient source failure; defaults to 2s
	ErrorBackoff time.Duration // after an unexpected failure; defaults to 5s

	// SeenCacheSize bounds each run-scoped seen set. 0 disables the cache.
	SeenCacheSize int

	Now     func() time.Time // optional; defaults to time.Now
	Log     Logger           // optional; nil = no logging
	OnEvent func(Event)      // optional; called from the loop goroutine
}

type Monitor struct {
	cfg   Config
	log   Logger
	state atomic.Int32

	seenIn  *seenCache
	seenOut *seenCache

	storageFailures int
}

func New(cfg Config) (*Monitor, error) {
	if cfg.Source == nil {
		return nil, errors.New("ingest: source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	return &Monitor{
		cfg:     cfg,
		log:     log,
		seenIn:  newSeenCache(cfg.SeenCacheSize),
		seenOut: newSeenCache(cfg.SeenCacheSize),
	}, nil
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
}

// Run polls until ctx is cancelled. Cancellation is observed at the top of
// each cycle, between the incoming and outgoing phases and during the sleep;
// the in-flight cycle's writes are completed before Run returns. Failures
// inside a cycle are logged and followed by a backoff; they never end the
// loop. Run returns nil once stopped. A stopped Monitor cannot be restarted.
func (m *Monitor) Run(ctx context.Context) error {
	if m.State() == Stopped {
		return ErrStopped
	}
	defer m.setState(Stopped)

	for {
		if ctx.Err() != nil {
			m.setState(Stopping)
			return nil
		}

		wait := m.cycle(ctx)

		if ctx.Err() != nil {
			m.setState(Stopping)
			return nil
		}
		select {
		case <-ctx.Done():
			m.setState(Stopping)
			return nil
		case <-time.After(wait):
		}
	}
}

type phase struct {
	name string
	dir  storage.Direction
	list func(context.Context) ([]source.Element, error)
	seen *seenCache
}

// cycle runs one poll cycle and returns how long to wait before the next one.
func (m *Monitor) cycle(ctx context.Context) (wait time.Duration) {
	wait = m.cfg.PollInterval
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during poll cycle: %v", r)
			m.log.Errorf("%v", err)
			m.emit(CycleFailure{Err: err})
			wait = m.cfg.ErrorBackoff
		}
	}()

	today := dates.Today(m.cfg.Now())
	phases := []phase{
		{name: "incoming", dir: storage.Incoming, list: m.cfg.Source.ListIncoming, seen: m.seenIn},
		{name: "outgoing", dir: storage.Outgoing, list: m.cfg.Source.ListOutgoing, seen: m.seenOut},
	}

	for _, p := range phases {
		if ctx.Err() != nil {
			return wait
		}
		elements, err := p.list(ctx)
		if err != nil {
			if backoff := m.listFailed(ctx, p.name, err); backoff > wait {
				wait = backoff
			}
			continue
		}
		m.process(ctx, p, today, elements)
	}
	return wait
}

func (m *Monitor) listFailed(ctx context.Context, phase string, err error) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	if source.IsUnavailable(err) {
		m.log.Warnf("[%s] listing %s messages: %v", m.cfg.Source.Name(), phase, err)
		m.emit(SourceUnavailable{Phase: phase, Err: err})
		return m.cfg.RetryBackoff
	}
	m.log.Errorf("[%s] unexpected error listing %s messages: %v", m.cfg.Source.Name(), phase, err)
	m.emit(CycleFailure{Err: err})
	return m.cfg.ErrorBackoff
}

func (m *Monitor) process(ctx context.Context, p phase, today string, elements []source.Element) {
	// Writes of an in-flight cycle complete even when a stop was requested.
	storeCtx := context.WithoutCancel(ctx)

	for _, el := range elements {
		rec, ok := m.cfg.Source.Extract(el)
		if !ok {
			m.log.Debugf("Skipping unreadable %s element", p.name)
			continue
		}

		date, ok := dates.ExtractCalendarDate(rec.Timestamp)
		if !ok || date != today {
			continue
		}

		id := storage.MakeID(rec.Text, rec.Meta)
		if !p.seen.Add(id) {
			continue
		}

		exists, err := m.cfg.Store.Exists(storeCtx, rec.Text, rec.Meta)
		if err != nil {
			m.storageFailed(err)
			p.seen.Remove(id)
			continue
		}
		stored := false
		if !exists {
			stored, err = m.cfg.Store.Add(storeCtx, rec.Sender, rec.Timestamp, rec.Text, rec.Meta, p.dir)
			if err != nil {
				m.storageFailed(err)
				p.seen.Remove(id)
				continue
			}
		}
		m.storageFailures = 0

		switch p.dir {
		case storage.Incoming:
			if !stored {
				continue
			}
			count, err := m.cfg.Store.CountIncoming(storeCtx, today)
			if err != nil {
				m.storageFailed(err)
				count = -1
			}
			m.log.Debugf("Stored incoming message %s", id)
			m.emit(NewIncoming{Sender: rec.Sender, Timestamp: rec.Timestamp, Text: rec.Text, TodayCount: count})
		case storage.Outgoing:
			m.emit(Outgoing{Sender: rec.Sender, Timestamp: rec.Timestamp, Text: rec.Text, New: stored})
		}
	}
}

func (m *Monitor) storageFailed(err error) {
	m.storageFailures++
	m.log.Errorf("Storage failure (%d in a row): %v", m.storageFailures, err)
	m.emit(StorageFailure{Err: err, Consecutive: m.storageFailures})
}

func (m *Monitor) emit(e Event) {
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(e)
	}
}
