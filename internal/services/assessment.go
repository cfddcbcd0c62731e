package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/pkg/cache"
	"github.com/rs/zerolog/log"
)

// pendingWrite is the latest durable state queued for one key. A nil
// assessment deletes the record.
type pendingWrite struct {
	assessment *models.Assessment
}

// AssessmentStore accumulates questionnaire answers across the three
// screens. Every update queues the whole aggregate for an asynchronous
// durable write; queued writes for the same key coalesce, so storage always
// converges on the latest in-memory state.
//
// Records are kept per user under assessment:<userID>. Changing the owner
// flushes the current record and restores the new owner's.
type AssessmentStore struct {
	cache *cache.Cache
	now   func() time.Time

	mu      sync.Mutex
	state   models.Assessment
	owner   string
	pending map[string]*pendingWrite
	seq     uint64 // last queued write
	written uint64 // last write applied to storage
	flushed chan struct{}
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewAssessmentStore creates a store holding defaults for the anonymous
// owner and starts its background writer. Call RestoreOnLaunch to load the
// stored record and Close to drain writes on shutdown.
func NewAssessmentStore(c *cache.Cache) *AssessmentStore {
	s := &AssessmentStore{
		cache:   c,
		now:     time.Now,
		state:   models.NewAssessment(),
		pending: make(map[string]*pendingWrite),
		flushed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.writer()
	return s
}

// Owner returns the user id the store currently holds answers for. Empty
// means anonymous.
func (s *AssessmentStore) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// UpdateSection merges fields into one section. Unknown sections, unknown
// fields, mistyped values and out-of-range severities are rejected with
// ErrValidation and leave the store unchanged.
func (s *AssessmentStore) UpdateSection(section string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	var err error
	switch section {
	case models.SectionDemographics:
		next.Demographics, err = mergeSection(next.Demographics, fields)
	case models.SectionOnset:
		next.Onset, err = mergeSection(next.Onset, fields)
	case models.SectionImpact:
		next.Impact, err = mergeSection(next.Impact, fields)
	default:
		return fmt.Errorf("%w: unknown section %q", ErrValidation, section)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, section, err)
	}

	next.Normalize()
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.state = next
	s.queueLocked(&next)
	return nil
}

// GetFullSnapshot returns a deep copy of all three sections. Mutating the
// snapshot never affects the store.
func (s *AssessmentStore) GetFullSnapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.Snapshot{
		Assessment:  s.state.Clone(),
		GeneratedAt: s.now().UTC(),
	}
}

// Reset restores the defaults and deletes the durable record.
func (s *AssessmentStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = models.NewAssessment()
	s.queueLocked(nil)

	log.Debug().Str("owner", ownerLabel(s.owner)).Msg("Assessment reset")
}

// RestoreOnLaunch loads the current owner's stored record over the
// defaults. Missing sections and fields keep their defaults; a malformed
// record or a storage failure leaves the defaults in place. It never fails.
func (s *AssessmentStore) RestoreOnLaunch(ctx context.Context) {
	s.mu.Lock()
	key := cache.AssessmentKey(s.owner)
	s.mu.Unlock()

	restored := models.NewAssessment()
	err := s.cache.Get(ctx, key, &restored)
	switch {
	case err == nil:
		restored.Normalize()
		if verr := restored.Validate(); verr != nil {
			log.Warn().Err(verr).Str("key", key).Msg("Stored assessment out of range, using defaults")
			restored = models.NewAssessment()
		}
	case errors.Is(err, cache.ErrCacheMiss):
		restored = models.NewAssessment()
	case errors.Is(err, cache.ErrCorrupt):
		log.Warn().Err(err).Str("key", key).Msg("Stored assessment malformed, using defaults")
		restored = models.NewAssessment()
	default:
		log.Warn().Err(err).Str("key", key).Msg("Failed to read stored assessment, using defaults")
		restored = models.NewAssessment()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cache.AssessmentKey(s.owner) != key {
		// Owner changed while reading; the newer switch restores its own record.
		return
	}
	if _, queued := s.pending[key]; queued {
		// A local edit raced the read and is newer than storage.
		return
	}
	s.state = restored
}

// SetOwner switches the store to another user's answers. The current
// answers are flushed under the previous owner first.
func (s *AssessmentStore) SetOwner(ctx context.Context, userID string) {
	s.mu.Lock()
	if s.owner == userID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush assessment before owner change")
	}

	s.mu.Lock()
	previous := s.owner
	s.owner = userID
	s.state = models.NewAssessment()
	s.mu.Unlock()

	log.Debug().
		Str("from", ownerLabel(previous)).
		Str("to", ownerLabel(userID)).
		Msg("Assessment owner changed")

	s.RestoreOnLaunch(ctx)
}

// Flush waits until every write queued before the call is durable. After
// Close it returns immediately.
func (s *AssessmentStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	target := s.seq
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.written >= target || s.closed {
			s.mu.Unlock()
			return nil
		}
		ch := s.flushed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains queued writes and stops the writer.
func (s *AssessmentStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.signal()
	<-s.done
}

// queueLocked must be called with s.mu held.
func (s *AssessmentStore) queueLocked(a *models.Assessment) {
	s.seq++
	var copied *models.Assessment
	if a != nil {
		c := a.Clone()
		copied = &c
	}
	s.pending[cache.AssessmentKey(s.owner)] = &pendingWrite{assessment: copied}
	s.signal()
}

func (s *AssessmentStore) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *AssessmentStore) writer() {
	defer close(s.done)

	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				break
			}
			batch := s.pending
			covered := s.seq
			s.pending = make(map[string]*pendingWrite)
			s.mu.Unlock()

			for key, w := range batch {
				s.persist(key, w)
			}

			// Every write queued before the swap is in the batch or was
			// superseded by one that is.
			s.mu.Lock()
			s.written = covered
			close(s.flushed)
			s.flushed = make(chan struct{})
			s.mu.Unlock()
		}
	}
}

// persist applies one write. Storage errors are logged and swallowed.
func (s *AssessmentStore) persist(key string, w *pendingWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if w.assessment == nil {
		err = s.cache.Delete(ctx, key)
	} else {
		err = s.cache.Set(ctx, key, w.assessment)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to persist assessment")
	}
}

// mergeSection overlays fields onto the JSON form of section and decodes the
// result back, rejecting unknown fields and mistyped values.
func mergeSection[T any](section T, fields map[string]any) (T, error) {
	var zero T

	base, err := json.Marshal(section)
	if err != nil {
		return zero, err
	}
	merged := make(map[string]any)
	if err := json.Unmarshal(base, &merged); err != nil {
		return zero, err
	}
	for k, v := range fields {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return zero, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var out T
	if err := dec.Decode(&out); err != nil {
		return zero, err
	}
	return out, nil
}

func ownerLabel(userID string) string {
	if userID == "" {
		return cache.AnonymousOwner
	}
	return userID
}
