package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DocumentsKey = "kno_canvases"
	TrashKey     = "kno_canvas_trash"
	statePrefix  = "kno_canvas_"

	defaultWriteTimeout = 10 * time.Second
)

// StateKey is the store key of a document's nodes, edges and viewport.
func StateKey(docID string) string {
	return statePrefix + docID
}

// Store is keyed blob persistence. Load reports found=false for a key that
// was never saved.
type Store interface {
	Load(ctx context.Context, key string) (value []byte, found bool, err error)
	Save(ctx context.Context, key string, value []byte) error
}

// Deleter is implemented by stores that can drop a key.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Persistence writes values to a Store in the background. Saves for the
// same key coalesce: only the newest pending value is written. Writes
// happen one at a time in the order keys were first queued, so a key's
// newer value never lands before an older one.
type Persistence struct {
	store    Store
	logger   *zap.Logger
	recorder Recorder
	timeout  time.Duration

	mu           sync.Mutex
	cond         *sync.Cond
	pending      map[string]any
	queue        []string
	writingKey   string
	writingValue any
	writing      bool
	closed       bool
	started      bool
	done         chan struct{}
}

func NewPersistence(store Store, logger *zap.Logger) *Persistence {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Persistence{
		store:    store,
		logger:   logger,
		recorder: nopRecorder{},
		timeout:  defaultWriteTimeout,
		pending:  map[string]any{},
		done:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetRecorder reports write failures to r.
func (p *Persistence) SetRecorder(r Recorder) {
	if r != nil {
		p.recorder = r
	}
}

// Start launches the writer goroutine.
func (p *Persistence) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.run()
}

// Close drains pending writes and stops the writer.
func (p *Persistence) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	p.cond.Broadcast()
	p.mu.Unlock()
	if started {
		<-p.done
	}
}

// SaveAsync queues value for key and returns immediately. value must not
// be modified afterwards; it is marshalled on the writer goroutine.
func (p *Persistence) SaveAsync(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("save after close dropped", zap.String("key", key))
		return
	}
	if _, queued := p.pending[key]; !queued {
		p.queue = append(p.queue, key)
	}
	p.pending[key] = value
	p.cond.Broadcast()
}

// Load reads key into dst. A value still waiting to be written wins over
// what the store holds.
func (p *Persistence) Load(ctx context.Context, key string, dst any) (bool, error) {
	p.mu.Lock()
	value, queued := p.pending[key]
	if !queued && p.writing && p.writingKey == key {
		value, queued = p.writingValue, true
	}
	p.mu.Unlock()

	if queued {
		data, err := json.Marshal(value)
		if err != nil {
			return false, fmt.Errorf("failed to encode pending %s: %w", key, err)
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return false, fmt.Errorf("failed to decode pending %s: %w", key, err)
		}
		return true, nil
	}

	data, found, err := p.store.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Delete drops a key and any write pending for it. A write of the same key
// already in progress is waited out so it cannot land after the delete;
// that wait is bounded by the store timeout.
func (p *Persistence) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	for p.writing && p.writingKey == key {
		p.cond.Wait()
	}
	if _, queued := p.pending[key]; queued {
		delete(p.pending, key)
		for i, k := range p.queue {
			if k == key {
				p.queue = append(p.queue[:i:i], p.queue[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	d, ok := p.store.(Deleter)
	if !ok {
		return nil
	}
	if err := d.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Flush waits until every queued write has been attempted.
func (p *Persistence) Flush(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		p.mu.Lock()
		for len(p.queue) > 0 || p.writing {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persistence) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		key := p.queue[0]
		p.queue = p.queue[1:]
		value := p.pending[key]
		delete(p.pending, key)
		p.writing, p.writingKey, p.writingValue = true, key, value
		p.mu.Unlock()

		p.write(key, value)

		p.mu.Lock()
		p.writing, p.writingKey, p.writingValue = false, "", nil
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// write failures are logged and dropped; the in-memory state stays the
// source of truth for the session.
func (p *Persistence) write(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		p.recorder.PersistFailed()
		p.logger.Error("failed to encode value", zap.String("key", key), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.store.Save(ctx, key, data); err != nil {
		p.recorder.PersistFailed()
		p.logger.Warn("failed to persist value", zap.String("key", key), zap.Error(err))
	}
}

// MemoryStore is an in-process Store, used when no database is configured
// and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
