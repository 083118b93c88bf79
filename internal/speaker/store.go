package speaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
)

// lockRetryDelay is how often a busy lock file is polled.
const lockRetryDelay = 50 * time.Millisecond

// ErrCorruptStore is returned when the speaker file exists but cannot be
// decoded. The file is left untouched.
var ErrCorruptStore = errors.New("speaker store is corrupt")

// Document is the persisted speaker directory.
type Document struct {
	Speakers       map[string]*model.SpeakerProfile `json:"speakers"`
	SpeakerCounter int                              `json:"speaker_counter"`
	UpdatedAt      time.Time                        `json:"updated_at"`
}

func newDocument() *Document {
	return &Document{Speakers: make(map[string]*model.SpeakerProfile)}
}

// Match returns the closest stored speaker within threshold, skipping ids in
// exclude.
func (d *Document) Match(embedding []float64, threshold float64, exclude map[string]bool) (string, float64, bool) {
	bestID, bestDist := "", maxDistance+1
	for _, id := range d.sortedIDs() {
		if exclude[id] {
			continue
		}
		dist := CosineDistance(embedding, d.Speakers[id].Embedding)
		if dist < bestDist {
			bestID, bestDist = id, dist
		}
	}
	if bestID == "" || bestDist > threshold {
		return "", bestDist, false
	}
	return bestID, bestDist, true
}

// Create allocates the next global id for a new speaker.
func (d *Document) Create(embedding []float64, confidence float64, sourceFile string, now time.Time) *model.SpeakerProfile {
	d.SpeakerCounter++
	profile := &model.SpeakerProfile{
		ID:          model.GlobalSpeakerID(d.SpeakerCounter),
		Embedding:   append([]float64(nil), embedding...),
		Confidence:  confidence,
		SourceFiles: []string{sourceFile},
		SampleCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	d.Speakers[profile.ID] = profile
	d.UpdatedAt = now
	return profile
}

// Merge folds a new sample into an existing speaker with a running weighted
// average.
func (d *Document) Merge(id string, embedding []float64, confidence float64, sourceFile string, now time.Time) error {
	profile, ok := d.Speakers[id]
	if !ok {
		return fmt.Errorf("unknown speaker %s", id)
	}

	profile.Embedding = WeightedUpdate(profile.Embedding, profile.SampleCount, embedding)
	profile.SampleCount++
	profile.Confidence = max(profile.Confidence, confidence)
	if !containsString(profile.SourceFiles, sourceFile) {
		profile.SourceFiles = append(profile.SourceFiles, sourceFile)
	}
	profile.UpdatedAt = now
	d.UpdatedAt = now
	return nil
}

func (d *Document) sortedIDs() []string {
	ids := make([]string, 0, len(d.Speakers))
	for id := range d.Speakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SpeakerSummary is the public view of one stored speaker.
type SpeakerSummary struct {
	SpeakerID        string    `json:"speaker_id"`
	Confidence       float64   `json:"confidence"`
	SourceFilesCount int       `json:"source_files_count"`
	SampleCount      int       `json:"sample_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Summary lists every known speaker.
type Summary struct {
	TotalSpeakers int              `json:"total_speakers"`
	Speakers      []SpeakerSummary `json:"speakers"`
}

// Store persists the speaker directory as a JSON file. Every read and update
// holds a weighted semaphore of size one, then an advisory lock on
// <path>.lock shared with other processes using the same file. Writes go to
// a temporary file in the same directory which then replaces the original.
type Store struct {
	path    string
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStore creates a store backed by path
func NewStore(path string, logger *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		path:    path,
		sem:     semaphore.NewWeighted(1),
		logger:  logger.With(slog.String("store", path)),
		metrics: m,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns a snapshot of the directory.
func (s *Store) Load(ctx context.Context) (*Document, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	unlock, err := s.lockFile(ctx, false)
	if err != nil {
		s.record("load", err)
		return nil, err
	}
	defer unlock()

	doc, err := s.read()
	s.record("load", err)
	return doc, err
}

// Update runs fn against the current directory and persists the result. If
// fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(doc *Document) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	unlock, err := s.lockFile(ctx, true)
	if err != nil {
		s.record("update", err)
		return err
	}
	defer unlock()

	doc, err := s.read()
	if err != nil {
		s.record("update", err)
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}

	err = s.write(doc)
	s.record("update", err)
	return err
}

// Summary returns a listing of all stored speakers ordered by id.
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Speakers: make([]SpeakerSummary, 0, len(doc.Speakers))}
	for _, id := range doc.sortedIDs() {
		p := doc.Speakers[id]
		summary.Speakers = append(summary.Speakers, SpeakerSummary{
			SpeakerID:        p.ID,
			Confidence:       p.Confidence,
			SourceFilesCount: len(p.SourceFiles),
			SampleCount:      p.SampleCount,
			CreatedAt:        p.CreatedAt,
			UpdatedAt:        p.UpdatedAt,
		})
	}
	summary.TotalSpeakers = len(summary.Speakers)
	return summary, nil
}

// lockFile takes the cross-process lock, shared for reads and exclusive for
// updates, waiting until ctx is done.
func (s *Store) lockFile(ctx context.Context, exclusive bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock speaker store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock speaker store: %w", ctx.Err())
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("Failed to unlock speaker store", "error", err)
		}
	}, nil
}

func (s *Store) read() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return newDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read speaker store: %w", err)
	}

	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Error("Speaker store cannot be decoded", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if doc.Speakers == nil {
		doc.Speakers = make(map[string]*model.SpeakerProfile)
	}
	for id, p := range doc.Speakers {
		if p.ID == "" {
			p.ID = id
		}
	}
	return doc, nil
}

func (s *Store) write(doc *Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode speaker store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary store file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace speaker store: %w", err)
	}

	s.logger.Debug("Speaker store written", slog.Int("speakers", len(doc.Speakers)))
	return nil
}

func (s *Store) record(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordStoreOperation(op, status)
}
