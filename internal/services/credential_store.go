package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ieraasyl/PsoriScan/internal/database"
	"github.com/rs/zerolog/log"
)

// mirrorTimeout bounds one durable credential write.
const mirrorTimeout = 5 * time.Second

// credentialStore is the synchronous in-memory credential cache. Reads never
// touch storage. Writes update memory immediately and queue the key for the
// background writer; queued writes for the same key coalesce, so a stalled
// KV never blocks callers and storage converges on the latest memory state.
type credentialStore struct {
	kv     database.KV
	prefix string

	mu     sync.RWMutex
	items  map[string]string
	closed bool

	// pending maps a key to its latest value; nil deletes it.
	pendingMu sync.Mutex
	pending   map[string][]byte
	seq       uint64 // last queued write
	written   uint64 // last write applied to storage
	flushed   chan struct{}
	stopped   bool

	wake chan struct{}
	done chan struct{}
}

func newCredentialStore(kv database.KV, prefix string) *credentialStore {
	s := &credentialStore{
		kv:      kv,
		prefix:  prefix,
		items:   make(map[string]string),
		pending: make(map[string][]byte),
		flushed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.writer()
	return s
}

// load bulk-reads every key under the prefix into memory. Keys already
// written in memory win over stored values.
func (s *credentialStore) load(ctx context.Context) error {
	entries, err := s.kv.Scan(ctx, s.prefix)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		if _, ok := s.items[k]; !ok {
			s.items[k] = string(v)
		}
	}

	log.Debug().Int("keys", len(entries)).Msg("Credential cache loaded")
	return nil
}

func (s *credentialStore) get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// set writes several keys at once. Empty values delete their key.
func (s *credentialStore) set(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes := make(map[string][]byte, len(values))
	for k, v := range values {
		if v == "" {
			delete(s.items, k)
			writes[k] = nil
			continue
		}
		s.items[k] = v
		writes[k] = []byte(v)
	}
	s.queueLocked(writes)
}

// clear removes every key under the prefix.
func (s *credentialStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes := make(map[string][]byte)
	for k := range s.items {
		if strings.HasPrefix(k, s.prefix) {
			delete(s.items, k)
			writes[k] = nil
		}
	}
	s.queueLocked(writes)
}

// queueLocked must be called with s.mu held so queued values follow memory
// order. It never waits on storage.
func (s *credentialStore) queueLocked(writes map[string][]byte) {
	if len(writes) == 0 {
		return
	}
	if s.closed {
		log.Warn().Int("keys", len(writes)).Msg("Credential store closed, write not mirrored")
		return
	}

	s.pendingMu.Lock()
	for k, v := range writes {
		s.pending[k] = v
	}
	s.seq++
	s.pendingMu.Unlock()

	s.signal()
}

func (s *credentialStore) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// flush waits until every write queued before the call is durable, or ctx
// ends. After close it returns immediately.
func (s *credentialStore) flush(ctx context.Context) error {
	s.pendingMu.Lock()
	target := s.seq
	s.pendingMu.Unlock()

	for {
		s.pendingMu.Lock()
		if s.written >= target || s.stopped {
			s.pendingMu.Unlock()
			return nil
		}
		ch := s.flushed
		s.pendingMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// close drains pending writes and stops the writer.
func (s *credentialStore) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.pendingMu.Lock()
	s.stopped = true
	s.pendingMu.Unlock()

	s.signal()
	<-s.done
}

func (s *credentialStore) writer() {
	defer close(s.done)

	for range s.wake {
		for {
			s.pendingMu.Lock()
			if len(s.pending) == 0 {
				stopped := s.stopped
				s.pendingMu.Unlock()
				if stopped {
					return
				}
				break
			}
			batch := s.pending
			covered := s.seq
			s.pending = make(map[string][]byte)
			s.pendingMu.Unlock()

			for key, value := range batch {
				s.apply(key, value)
			}

			s.pendingMu.Lock()
			s.written = covered
			close(s.flushed)
			s.flushed = make(chan struct{})
			s.pendingMu.Unlock()
		}
	}
}

// apply performs one durable write. Failures are logged and dropped.
func (s *credentialStore) apply(key string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	var err error
	if value == nil {
		err = s.kv.Delete(ctx, key)
	} else {
		err = s.kv.Set(ctx, key, value)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to mirror credential to storage")
	}
}
