package speaker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/chunkscribe/internal/audio"
	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
)

// Config contains unification tuning
type Config struct {
	Threshold            float64 // maximum cosine distance for "same speaker"
	MaxSamplesPerSpeaker int
	MinSampleDuration    float64
	Concurrency          int // parallel embedding calls
	RequestTimeout       time.Duration
}

// DefaultConfig returns the standard tuning
func DefaultConfig() Config {
	return Config{
		Threshold:            0.3,
		MaxSamplesPerSpeaker: 3,
		MinSampleDuration:    0.5,
		Concurrency:          4,
		RequestTimeout:       time.Minute,
	}
}

// Result describes one unification pass.
type Result struct {
	Mapping         map[string]string `json:"mapping"`
	Unavailable     bool              `json:"unavailable"`
	Reason          string            `json:"reason,omitempty"`
	Instances       int               `json:"instances"`
	Embedded        int               `json:"embedded"`
	Clusters        int               `json:"clusters"`
	MatchedSpeakers int               `json:"matched_speakers"`
	NewSpeakers     int               `json:"new_speakers"`
	Persisted       bool              `json:"persisted"`
}

// Unifier maps chunk-local speakers to global ids
type Unifier struct {
	embedder  Embedder
	extractor audio.Extractor
	store     *Store
	config    Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewUnifier creates a unifier. A nil embedder makes every pass report
// unavailability; a nil store keeps ids local to the run.
func NewUnifier(embedder Embedder, extractor audio.Extractor, store *Store, config Config, logger *slog.Logger, m *metrics.Metrics) *Unifier {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.MaxSamplesPerSpeaker < 1 {
		config.MaxSamplesPerSpeaker = 1
	}
	return &Unifier{
		embedder:  embedder,
		extractor: extractor,
		store:     store,
		config:    config,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// localSpeaker gathers the global time ranges of one (chunk, label) pair.
type localSpeaker struct {
	chunkIndex int
	label      string
	spans      []model.TimeRange
}

// Unify embeds every chunk-local speaker of transcript, clusters them and
// returns pending key -> global id. An unreachable extractor is not an
// error: the result is marked unavailable with an empty mapping.
func (u *Unifier) Unify(ctx context.Context, sourceRef string, transcript *model.MergedTranscript) (*Result, error) {
	speakers := collectSpeakers(transcript.Segments)
	result := &Result{Mapping: map[string]string{}, Instances: len(speakers)}
	logger := u.logger.With(slog.String("source", sourceRef))

	if len(speakers) == 0 {
		u.metrics.RecordUnification("skipped")
		return result, nil
	}
	if u.embedder == nil {
		return u.unavailable(result, "no embedding extractor configured"), nil
	}

	embeddings := make([][]float64, len(speakers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.config.Concurrency)
	for i, s := range speakers {
		g.Go(func() error {
			emb, err := u.embedSpeaker(gctx, sourceRef, s)
			if err != nil {
				return err
			}
			embeddings[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if model.IsKind(err, model.KindUnificationUnavailable) {
			logger.Warn("Embedding extractor unavailable, keeping chunk labels", "error", err)
			return u.unavailable(result, err.Error()), nil
		}
		return nil, err
	}

	instances := make([]Instance, 0, len(speakers))
	for i, s := range speakers {
		if embeddings[i] == nil {
			logger.Warn("No usable embedding for speaker",
				slog.Int("chunk_index", s.chunkIndex),
				slog.String("label", s.label))
			continue
		}
		instances = append(instances, Instance{ChunkIndex: s.chunkIndex, Label: s.label, Embedding: embeddings[i]})
	}
	result.Embedded = len(instances)
	if len(instances) == 0 {
		logger.Warn("No speaker could be embedded, keeping chunk labels")
		return u.unavailable(result, "no speaker could be embedded"), nil
	}

	clusters := ClusterInstances(instances, u.config.Threshold)
	result.Clusters = len(clusters)

	ids, err := u.resolveIDs(ctx, sourceRef, clusters, result)
	if err != nil {
		return nil, err
	}
	for i, c := range clusters {
		for _, m := range c.Members {
			result.Mapping[m.Key()] = ids[i]
		}
	}

	outcome := "unified"
	if !result.Persisted {
		outcome = "local"
	}
	u.metrics.RecordUnification(outcome)

	logger.Info("Speaker unification completed",
		slog.Int("chunk_speakers", result.Instances),
		slog.Int("embedded", result.Embedded),
		slog.Int("global_speakers", result.Clusters),
		slog.Int("matched_known", result.MatchedSpeakers),
		slog.Int("new", result.NewSpeakers))

	return result, nil
}

func (u *Unifier) unavailable(result *Result, reason string) *Result {
	u.metrics.RecordUnification("unavailable")
	result.Unavailable = true
	result.Reason = reason
	return result
}

// embedSpeaker averages the embeddings of the speaker's longest spans.
// It returns nil without error when no sample could be embedded.
func (u *Unifier) embedSpeaker(ctx context.Context, sourceRef string, s localSpeaker) ([]float64, error) {
	var vectors [][]float64
	for _, span := range pickSamples(s.spans, u.config.MaxSamplesPerSpeaker, u.config.MinSampleDuration) {
		data, err := u.extractor.Extract(ctx, sourceRef, span.Start, span.Duration())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			u.logger.Debug("Failed to extract speaker sample", "error", err)
			continue
		}

		emb, err := u.embed(ctx, data, span)
		if err != nil {
			if model.IsKind(err, model.KindUnificationUnavailable) || ctx.Err() != nil {
				return nil, err
			}
			u.logger.Debug("Failed to embed speaker sample",
				slog.Int("chunk_index", s.chunkIndex),
				slog.String("label", s.label),
				slog.String("error", err.Error()))
			continue
		}
		vectors = append(vectors, emb)
	}
	return Mean(vectors), nil
}

func (u *Unifier) embed(ctx context.Context, data []byte, span model.TimeRange) ([]float64, error) {
	if u.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.config.RequestTimeout)
		defer cancel()
	}
	return u.embedder.Embed(ctx, data, span)
}

// resolveIDs assigns a global id per cluster, from the persisted directory
// when there is one. A directory that cannot be read or written degrades to
// run-local ids.
func (u *Unifier) resolveIDs(ctx context.Context, sourceRef string, clusters []*Cluster, result *Result) ([]string, error) {
	ids := make([]string, len(clusters))
	if u.store != nil && len(clusters) > 0 {
		err := u.store.Update(ctx, func(doc *Document) error {
			now := u.now()
			claimed := make(map[string]bool, len(clusters))
			for i, c := range clusters {
				centroid := c.Centroid()
				if id, dist, ok := doc.Match(centroid, u.config.Threshold, claimed); ok {
					if err := doc.Merge(id, centroid, 1-dist, sourceRef, now); err != nil {
						return err
					}
					ids[i] = id
					result.MatchedSpeakers++
					u.metrics.RecordSpeakerResolved("matched")
				} else {
					ids[i] = doc.Create(centroid, c.Cohesion(), sourceRef, now).ID
					result.NewSpeakers++
					u.metrics.RecordSpeakerResolved("created")
				}
				claimed[ids[i]] = true
			}
			return nil
		})
		if err == nil {
			result.Persisted = true
			return ids, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		u.logger.Error("Speaker store unusable, using run-local ids", "error", err)
		result.MatchedSpeakers, result.NewSpeakers = 0, 0
	}

	// Without any store there is no namespace to collide with.
	format := model.GlobalSpeakerID
	if u.store != nil {
		format = model.LocalSpeakerID
	}
	for i := range clusters {
		ids[i] = format(i + 1)
		u.metrics.RecordSpeakerResolved("local")
	}
	result.NewSpeakers = len(clusters)
	return ids, nil
}

// collectSpeakers groups labelled segments by (chunk, label), ordered by
// chunk index and then first appearance.
func collectSpeakers(segments []model.Segment) []localSpeaker {
	type key struct {
		chunk int
		label string
	}
	index := make(map[key]int)
	var speakers []localSpeaker
	for _, seg := range segments {
		if seg.LocalSpeaker == "" || seg.Speaker == model.UnknownSpeaker {
			continue
		}
		k := key{seg.ChunkIndex, seg.LocalSpeaker}
		p, ok := index[k]
		if !ok {
			p = len(speakers)
			index[k] = p
			speakers = append(speakers, localSpeaker{chunkIndex: seg.ChunkIndex, label: seg.LocalSpeaker})
		}
		speakers[p].spans = append(speakers[p].spans, seg.Range())
	}
	sort.SliceStable(speakers, func(i, j int) bool {
		return speakers[i].chunkIndex < speakers[j].chunkIndex
	})
	return speakers
}

// pickSamples returns up to n of the longest spans lasting at least
// minDuration, or the single longest span when none does.
func pickSamples(spans []model.TimeRange, n int, minDuration float64) []model.TimeRange {
	sorted := append([]model.TimeRange(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration() > sorted[j].Duration()
	})

	var out []model.TimeRange
	for _, s := range sorted {
		if len(out) == n {
			break
		}
		if s.Duration() >= minDuration {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(sorted) > 0 && sorted[0].Duration() > 0 {
		out = append(out, sorted[0])
	}
	return out
}
