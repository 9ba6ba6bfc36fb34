// Package stream implements the stream manager: named in-memory streams,
// subscriber fan-out, flow attachment and TTL-bounded lifecycles.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/runtime"
)

var (
	ErrStreamExists   = errors.New("stream already exists")
	ErrStreamNotFound = errors.New("stream not found")
	ErrFlowExists     = errors.New("flow already exists")
	ErrFlowNotFound   = errors.New("flow not found")
	ErrSubNotFound    = errors.New("subscription not found")
)

// faultThreshold is the number of consecutive push errors after which a flow
// is detached. Individual document errors fail soft: drop and warn.
const faultThreshold = 10

// Subscriber receives documents and an end-of-stream notification.
type Subscriber struct {
	OnData func(ctx context.Context, doc document.Document) error
	OnEnd  func()
}

// Stream is a named conduit. Every inserted document is delivered to each
// attached flow head in insertion order, then to subscribers.
type Stream struct {
	Name     string
	Created  time.Time
	TTL      time.Duration
	inserted uint64
	subs     map[string]Subscriber
	subOrder []string
	flows    []*Flow
	ttlTimer *time.Timer
}

// Flow is a pipeline subscribed to a source stream.
type Flow struct {
	ID      string
	Name    string
	Source  string
	Created time.Time
	TTL     time.Duration
	pipe    *runtime.Pipeline
	errs    int
	faulted bool
	ttlT    *time.Timer
}

// Manager holds the process-wide stream registry.
type Manager struct {
	mu     sync.RWMutex
	logger *zap.Logger

	streams map[string]*Stream
	flows   map[string]*Flow  // by name
	subs    map[string]string // subscription id -> stream name
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		streams: make(map[string]*Stream),
		flows:   make(map[string]*Flow),
		subs:    make(map[string]string),
	}
}

// CreateStream registers a stream. With replace, an existing stream of the
// same name is torn down first: its subscribers are notified and its flows
// detached.
func (m *Manager) CreateStream(name string, replace bool, ttl time.Duration) error {
	m.mu.Lock()
	existing, ok := m.streams[name]
	if ok && !replace {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamExists, name)
	}
	if ok {
		m.teardownLocked(existing)
	}
	s := &Stream{
		Name:    name,
		Created: time.Now(),
		TTL:     ttl,
		subs:    make(map[string]Subscriber),
	}
	m.streams[name] = s
	if ttl > 0 {
		s.ttlTimer = time.AfterFunc(ttl, func() {
			if err := m.DeleteStream(name); err == nil {
				m.logger.Info("stream expired", zap.String("stream", name))
			}
		})
	}
	m.mu.Unlock()
	m.logger.Info("stream created", zap.String("stream", name), zap.Bool("replace", ok))
	return nil
}

// DeleteStream destroys a stream, detaching its flows and notifying
// subscribers with end-of-stream.
func (m *Manager) DeleteStream(name string) error {
	m.mu.Lock()
	s, ok := m.streams[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	m.teardownLocked(s)
	delete(m.streams, name)
	m.mu.Unlock()
	m.logger.Info("stream deleted", zap.String("stream", name))
	return nil
}

// teardownLocked detaches flows, cancels timers and notifies subscribers.
// Finish is deliberately not propagated: forced deletion abandons operator
// state.
func (m *Manager) teardownLocked(s *Stream) {
	if s.ttlTimer != nil {
		s.ttlTimer.Stop()
	}
	for _, f := range s.flows {
		if f.ttlT != nil {
			f.ttlT.Stop()
		}
		delete(m.flows, f.Name)
	}
	s.flows = nil
	for _, id := range s.subOrder {
		if sub, ok := s.subs[id]; ok && sub.OnEnd != nil {
			sub.OnEnd()
		}
		delete(m.subs, id)
	}
	s.subs = make(map[string]Subscriber)
	s.subOrder = nil
}

// Insert pushes documents into a stream, walking attached flow heads in
// attach order and then subscribers, awaiting each before returning.
func (m *Manager) Insert(ctx context.Context, name string, docs ...document.Document) (int, error) {
	m.mu.RLock()
	s, ok := m.streams[name]
	if !ok {
		m.mu.RUnlock()
		return 0, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	flows := make([]*Flow, len(s.flows))
	copy(flows, s.flows)
	subscribers := make([]Subscriber, 0, len(s.subOrder))
	for _, id := range s.subOrder {
		if sub, ok := s.subs[id]; ok {
			subscribers = append(subscribers, sub)
		}
	}
	m.mu.RUnlock()

	count := 0
	for _, doc := range docs {
		for _, f := range flows {
			if f.faulted {
				continue
			}
			if err := f.pipe.Push(ctx, doc); err != nil {
				f.errs++
				m.logger.Warn("flow push error, document dropped",
					zap.String("flow", f.Name), zap.String("stream", name),
					zap.Int("consecutive", f.errs), zap.Error(err))
				if f.errs >= faultThreshold {
					m.faultFlow(f)
				}
				continue
			}
			f.errs = 0
		}
		for _, sub := range subscribers {
			if sub.OnData == nil {
				continue
			}
			if err := sub.OnData(ctx, doc); err != nil {
				m.logger.Warn("subscriber error", zap.String("stream", name), zap.Error(err))
			}
		}
		count++
	}
	m.mu.Lock()
	s.inserted += uint64(count)
	m.mu.Unlock()
	return count, nil
}

// faultFlow marks a flow faulted and detaches it from its source.
func (m *Manager) faultFlow(f *Flow) {
	f.faulted = true
	m.logger.Error("flow faulted, detaching", zap.String("flow", f.Name), zap.String("source", f.Source))
	if err := m.DeleteFlow(f.Name); err != nil {
		m.logger.Warn("detach of faulted flow failed", zap.String("flow", f.Name), zap.Error(err))
	}
}

// Flush propagates a flush barrier through every flow attached to a stream.
func (m *Manager) Flush(ctx context.Context, name string) error {
	m.mu.RLock()
	s, ok := m.streams[name]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	flows := make([]*Flow, len(s.flows))
	copy(flows, s.flows)
	m.mu.RUnlock()

	for _, f := range flows {
		if f.faulted {
			continue
		}
		if err := f.pipe.Flush(ctx); err != nil {
			m.logger.Warn("flow flush error", zap.String("flow", f.Name), zap.Error(err))
		}
	}
	return nil
}

// Subscribe attaches a callback to a stream and returns a subscription id.
func (m *Manager) Subscribe(name string, sub Subscriber) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	id := uuid.NewString()
	s.subs[id] = sub
	s.subOrder = append(s.subOrder, id)
	m.subs[id] = name
	return id, nil
}

func (m *Manager) Unsubscribe(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubNotFound, id)
	}
	delete(m.subs, id)
	if s, ok := m.streams[name]; ok {
		delete(s.subs, id)
		for i, sid := range s.subOrder {
			if sid == id {
				s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
				break
			}
		}
	}
	return nil
}

// AttachFlow subscribes a pipeline to a source stream under a flow name.
func (m *Manager) AttachFlow(name, source string, pipe *runtime.Pipeline, ttl time.Duration) (string, error) {
	m.mu.Lock()
	s, ok := m.streams[source]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrStreamNotFound, source)
	}
	if _, ok := m.flows[name]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrFlowExists, name)
	}
	f := &Flow{
		ID:      uuid.NewString(),
		Name:    name,
		Source:  source,
		Created: time.Now(),
		TTL:     ttl,
		pipe:    pipe,
	}
	m.flows[name] = f
	s.flows = append(s.flows, f)
	if ttl > 0 {
		f.ttlT = time.AfterFunc(ttl, func() {
			if err := m.DeleteFlow(name); err == nil {
				m.logger.Info("flow expired", zap.String("flow", name))
			}
		})
	}
	m.mu.Unlock()
	m.logger.Info("flow attached", zap.String("flow", name), zap.String("source", source))
	return f.ID, nil
}

// DeleteFlow detaches a flow. The current in-flight push completes first
// (pushes hold the pipeline lock, not the manager lock); Finish is not
// called on forced deletion.
func (m *Manager) DeleteFlow(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	if f.ttlT != nil {
		f.ttlT.Stop()
	}
	delete(m.flows, name)
	if s, ok := m.streams[f.Source]; ok {
		for i, sf := range s.flows {
			if sf == f {
				s.flows = append(s.flows[:i], s.flows[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (m *Manager) HasStream(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.streams[name]
	return ok
}

func (m *Manager) ListStreams() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.streams))
	for name := range m.streams {
		out = append(out, name)
	}
	return out
}

func (m *Manager) ListFlows() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.flows))
	for name := range m.flows {
		out = append(out, name)
	}
	return out
}

// Info reports metadata for a stream or flow by name.
func (m *Manager) Info(name string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.streams[name]; ok {
		return map[string]any{
			"kind":        "stream",
			"name":        s.Name,
			"created":     s.Created,
			"ttl":         s.TTL.String(),
			"inserted":    s.inserted,
			"subscribers": len(s.subs),
			"flows":       len(s.flows),
		}, nil
	}
	if f, ok := m.flows[name]; ok {
		return map[string]any{
			"kind":    "flow",
			"name":    f.Name,
			"id":      f.ID,
			"source":  f.Source,
			"created": f.Created,
			"ttl":     f.TTL.String(),
			"faulted": f.faulted,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
}
