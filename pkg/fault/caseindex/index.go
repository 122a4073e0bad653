package caseindex

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hecongqing/shukongdashi/pkg/fault"
	"github.com/hecongqing/shukongdashi/pkg/fault/metrics"
)

const (
	defaultMaxFeatures = 1000
	// Below this corpus size a full rebuild on every add is cheap and
	// always correct; above it the add path switches to an incremental
	// transform against the existing vocabulary.
	defaultRebuildThreshold = 512
	// Corpora at least this large are scored across worker goroutines.
	parallelScoreThreshold = 2048
)

// Tokenizer is the subset of text normalization the index needs. The
// same tokenization is applied to the corpus and to queries.
type Tokenizer interface {
	Tokens(text string) []string
}

// snapshot is one immutable, fully consistent view of the vector
// table. Readers grab the current snapshot and never observe a
// partially updated table; writers build a replacement and swap it.
type snapshot struct {
	vectorizer *vectorizer
	cases      []fault.FaultCase
	vectors    []termVector
	byID       map[string]int
}

func (s *snapshot) consistent() bool {
	return s.vectorizer != nil && len(s.cases) == len(s.vectors)
}

// Index is the TF-IDF case similarity index. Read-mostly: queries are
// lock-free after grabbing the snapshot pointer; addCase and feedback
// updates replace the snapshot copy-on-write.
type Index struct {
	tokenizer        Tokenizer
	store            fault.CaseStore
	rebuildThreshold int
	maxFeatures      int
	minWeight        float64
	maxWeight        float64

	mutex sync.RWMutex
	snap  *snapshot

	logger *logrus.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithStore attaches a persistent case store. Cases are loaded from it
// at construction and writes are mirrored to it.
func WithStore(store fault.CaseStore) Option {
	return func(i *Index) { i.store = store }
}

// WithRebuildThreshold overrides the incremental-update corpus size.
func WithRebuildThreshold(n int) Option {
	return func(i *Index) { i.rebuildThreshold = n }
}

// WithMaxFeatures overrides the vocabulary cap.
func WithMaxFeatures(n int) Option {
	return func(i *Index) { i.maxFeatures = n }
}

// WithWeightBounds overrides the feedback weight clamp.
func WithWeightBounds(min, max float64) Option {
	return func(i *Index) { i.minWeight, i.maxWeight = min, max }
}

// NewIndex builds an index over the store's corpus (empty when no
// store is attached).
func NewIndex(ctx context.Context, tokenizer Tokenizer, opts ...Option) (*Index, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	idx := &Index{
		tokenizer:        tokenizer,
		rebuildThreshold: defaultRebuildThreshold,
		maxFeatures:      defaultMaxFeatures,
		minWeight:        0.1,
		maxWeight:        3.0,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(idx)
	}

	var cases []fault.FaultCase
	if idx.store != nil {
		loaded, err := idx.store.Load(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "loading case corpus")
		}
		cases = loaded
	}
	idx.snap = idx.build(cases)
	idx.logger.WithField("case_count", len(cases)).Info("Case index built")
	return idx, nil
}

// build constructs a fresh snapshot from scratch.
func (i *Index) build(cases []fault.FaultCase) *snapshot {
	docs := make([][]string, len(cases))
	for n, c := range cases {
		docs[n] = i.caseTokens(c)
	}
	v := fitVectorizer(docs, i.maxFeatures)

	vectors := make([]termVector, len(cases))
	for n, tokens := range docs {
		vectors[n] = v.transform(tokens)
	}

	byID := make(map[string]int, len(cases))
	for n, c := range cases {
		byID[c.ID] = n
	}

	metrics.CaseIndexSize.Set(float64(len(cases)))
	metrics.CaseIndexVocabulary.Set(float64(v.vocabularySize()))
	metrics.CaseIndexRebuilds.Inc()
	return &snapshot{vectorizer: v, cases: cases, vectors: vectors, byID: byID}
}

// caseTokens tokenizes a case the same way queries are: description
// plus causes and solutions, so remedial vocabulary is retrievable.
func (i *Index) caseTokens(c fault.FaultCase) []string {
	tokens := i.tokenizer.Tokens(c.Description)
	for _, s := range c.Causes {
		tokens = append(tokens, i.tokenizer.Tokens(s)...)
	}
	for _, s := range c.Solutions {
		tokens = append(tokens, i.tokenizer.Tokens(s)...)
	}
	return tokens
}

func (i *Index) snapshot() *snapshot {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.snap
}

// Query implements fault.CaseIndex. Every returned case has similarity
// >= minSimilarity; results are sorted descending by similarity with
// higher feedback weight breaking ties.
func (i *Index) Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]fault.ScoredCase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := i.snapshot()
	if !snap.consistent() {
		// Corrupt vector table: fatal for this view, rebuild and retry.
		i.logger.Warn("Case vector table inconsistent, rebuilding")
		snap = i.rebuild()
		if !snap.consistent() {
			return nil, fault.ErrIndexInconsistent
		}
	}
	if len(snap.cases) == 0 {
		return nil, nil
	}

	query := snap.vectorizer.transform(i.tokenizer.Tokens(text))
	if len(query.Indices) == 0 {
		return nil, nil
	}

	scores := i.score(ctx, snap, query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := make([]fault.ScoredCase, 0, len(scores))
	for n, sim := range scores {
		if sim >= minSimilarity {
			matches = append(matches, fault.ScoredCase{Case: snap.cases[n], Similarity: sim})
		}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Similarity != matches[b].Similarity {
			return matches[a].Similarity > matches[b].Similarity
		}
		if matches[a].Case.FeedbackWeight != matches[b].Case.FeedbackWeight {
			return matches[a].Case.FeedbackWeight > matches[b].Case.FeedbackWeight
		}
		return matches[a].Case.ID < matches[b].Case.ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// score computes cosine similarity against every case vector, chunked
// across workers for large corpora.
func (i *Index) score(ctx context.Context, snap *snapshot, query termVector) []float64 {
	scores := make([]float64, len(snap.vectors))
	if len(snap.vectors) < parallelScoreThreshold {
		for n, vec := range snap.vectors {
			scores[n] = query.dot(vec)
		}
		return scores
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(snap.vectors) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(snap.vectors) {
			break
		}
		end := start + chunk
		if end > len(snap.vectors) {
			end = len(snap.vectors)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for n := start; n < end; n++ {
				if ctx.Err() != nil {
					return
				}
				scores[n] = query.dot(snap.vectors[n])
			}
		}(start, end)
	}
	wg.Wait()
	return scores
}

// AddCase implements fault.CaseIndex. Small corpora rebuild the whole
// vector table; larger ones transform only the new case against the
// existing vocabulary, which is an optimization rather than a
// correctness requirement.
func (i *Index) AddCase(ctx context.Context, c fault.FaultCase) error {
	if c.FeedbackWeight == 0 {
		c.FeedbackWeight = 1.0
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	if _, exists := i.snap.byID[c.ID]; exists {
		return errors.Errorf("case already indexed: %s", c.ID)
	}

	// Persist before publishing, so a store failure never leaves the
	// index serving a case the corpus lost.
	if i.store != nil {
		if err := i.store.Append(ctx, c); err != nil {
			return errors.Wrap(err, "persisting case")
		}
	}

	cases := append(append([]fault.FaultCase(nil), i.snap.cases...), c)
	if len(cases) <= i.rebuildThreshold {
		i.snap = i.build(cases)
	} else {
		vectors := append(append([]termVector(nil), i.snap.vectors...), i.snap.vectorizer.transform(i.caseTokens(c)))
		byID := make(map[string]int, len(cases))
		for n, fc := range cases {
			byID[fc.ID] = n
		}
		i.snap = &snapshot{vectorizer: i.snap.vectorizer, cases: cases, vectors: vectors, byID: byID}
		metrics.CaseIndexSize.Set(float64(len(cases)))
	}

	i.logger.WithField("case_id", c.ID).Info("Case added to index")
	return nil
}

// UpdateFeedback implements fault.CaseIndex, clamping the resulting
// weight into the configured bounds.
func (i *Index) UpdateFeedback(ctx context.Context, caseID string, delta float64) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	n, ok := i.snap.byID[caseID]
	if !ok {
		return errors.Errorf("case not found: %s", caseID)
	}

	cases := append([]fault.FaultCase(nil), i.snap.cases...)
	weight := cases[n].FeedbackWeight + delta
	if weight < i.minWeight {
		weight = i.minWeight
	}
	if weight > i.maxWeight {
		weight = i.maxWeight
	}
	cases[n].FeedbackWeight = weight

	// Vectors are untouched by feedback; share them with the new
	// snapshot.
	i.snap = &snapshot{vectorizer: i.snap.vectorizer, cases: cases, vectors: i.snap.vectors, byID: i.snap.byID}

	if i.store != nil {
		if err := i.store.UpdateWeight(ctx, caseID, weight); err != nil {
			return errors.Wrap(err, "persisting feedback weight")
		}
	}
	i.logger.WithFields(logrus.Fields{"case_id": caseID, "weight": weight}).Info("Feedback weight updated")
	return nil
}

// Count implements fault.CaseIndex.
func (i *Index) Count() int {
	return len(i.snapshot().cases)
}

// rebuild reconstructs the snapshot from the current case list under
// the write lock.
func (i *Index) rebuild() *snapshot {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.snap = i.build(i.snap.cases)
	return i.snap
}
