package fault

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	analyzeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "fault_analyze_duration_seconds",
			Help: "Time spent answering analyze requests",
		},
		[]string{"status"},
	)

	stageDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fault_stage_degraded_total",
			Help: "Number of pipeline stages demoted to an empty contribution",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(analyzeDuration)
	prometheus.MustRegister(stageDegradedTotal)
}

// AnalyzerConfig carries the tunable knobs of the pipeline.
type AnalyzerConfig struct {
	MaxDepth      int
	TopK          int
	MinSimilarity float64
	GraphTimeout  time.Duration
	CaseTimeout   time.Duration
	// MinFeedbackWeight and MaxFeedbackWeight clamp per-case feedback
	// multipliers.
	MinFeedbackWeight float64
	MaxFeedbackWeight float64
	// NewCaseThreshold is the effectiveness at or above which feedback
	// on an unknown solution creates a new case.
	NewCaseThreshold float64
	Policy           ScorePolicy
}

// DefaultAnalyzerConfig returns the default pipeline configuration.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MaxDepth:          3,
		TopK:              5,
		MinSimilarity:     0.1,
		GraphTimeout:      5 * time.Second,
		CaseTimeout:       3 * time.Second,
		MinFeedbackWeight: 0.1,
		MaxFeedbackWeight: 3.0,
		NewCaseThreshold:  0.8,
		Policy:            DefaultScorePolicy(),
	}
}

// Analyzer sequences the diagnosis pipeline: normalize, extract
// elements, run graph reasoning and case matching concurrently, then
// aggregate. Recoverable stage failures demote that stage to an empty
// contribution; the pipeline never aborts for them.
type Analyzer struct {
	normalizer Normalizer
	extractor  ElementExtractor
	reasoner   PathReasoner
	index      CaseIndex
	graphStore GraphStore
	aggregator *Aggregator
	config     AnalyzerConfig
	logger     *logrus.Logger
}

// NewAnalyzer wires the pipeline components together. graphStore is
// only used for status probing; reasoning goes through the reasoner.
func NewAnalyzer(normalizer Normalizer, extractor ElementExtractor, reasoner PathReasoner, index CaseIndex, graphStore GraphStore, config AnalyzerConfig) *Analyzer {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultAnalyzerConfig().MaxDepth
	}
	if config.TopK <= 0 {
		config.TopK = DefaultAnalyzerConfig().TopK
	}

	return &Analyzer{
		normalizer: normalizer,
		extractor:  extractor,
		reasoner:   reasoner,
		index:      index,
		graphStore: graphStore,
		aggregator: NewAggregator(config.Policy),
		config:     config,
		logger:     logger,
	}
}

// Analyze runs the full pipeline for one fault description. Empty
// input after normalization short-circuits to an empty zero-confidence
// result without touching the graph or case services.
func (a *Analyzer) Analyze(ctx context.Context, text string, qc *QueryContext) (*AnalysisResult, error) {
	start := time.Now()
	requestID := uuid.New().String()
	state := StateReceived

	log := a.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"text_length": len(text),
	})
	log.Info("Analyze request received")

	cleaned := a.normalizer.Clean(text)
	state = StateNormalized
	if strings.TrimSpace(cleaned) == "" {
		log.Info("Input empty after normalization, returning empty result")
		analyzeDuration.WithLabelValues("empty").Observe(time.Since(start).Seconds())
		return &AnalysisResult{
			Elements:  []FaultElement{},
			Causes:    []Candidate{},
			Solutions: []Candidate{},
			State:     StateCompleted,
		}, nil
	}

	elements, degraded := a.extractElements(ctx, cleaned, qc)
	state = StateElementsExtracted
	log.WithField("element_count", len(elements)).Info("Fault elements extracted")

	paths, cases, stageDegraded := a.queryStages(ctx, elements, a.caseQueryText(cleaned, qc))
	degraded = append(degraded, stageDegraded...)
	state = StateAggregated

	causes, solutions, overall := a.aggregator.Aggregate(paths, cases)
	solutions = a.aggregator.MergeHints(solutions, a.alarmHints(elements, qc))
	state = StateCompleted
	if len(degraded) > 0 {
		// Lowered trust when a stage contributed nothing it should have.
		overall = clamp01(overall * 0.9)
		state = StateDegraded
	}

	result := &AnalysisResult{
		Elements:          elements,
		ReasoningPaths:    paths,
		Causes:            causes,
		Solutions:         solutions,
		OverallConfidence: overall,
		DegradedStages:    degraded,
		State:             state,
	}

	log.WithFields(logrus.Fields{
		"state":              state,
		"cause_count":        len(causes),
		"solution_count":     len(solutions),
		"overall_confidence": overall,
		"degraded_stages":    degraded,
	}).Info("Analyze request completed")
	analyzeDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())

	return result, nil
}

// extractElements runs sentence-wise extraction over the description
// plus each related phenomenon, deduplicating on (content, category).
func (a *Analyzer) extractElements(ctx context.Context, cleaned string, qc *QueryContext) ([]FaultElement, []Stage) {
	texts := a.normalizer.Sentences(cleaned)
	if qc != nil {
		texts = append(texts, qc.RelatedPhenomena...)
	}

	var degraded []Stage
	elements := make([]FaultElement, 0)
	for _, sentence := range texts {
		elems, err := a.extractor.Extract(ctx, sentence)
		if err != nil {
			// Extraction errors are recoverable; the dictionary
			// fallback inside the extractor already absorbed the
			// tagger, so an error here means even that failed.
			a.logger.WithError(err).Warn("Element extraction degraded")
			stageDegradedTotal.WithLabelValues(string(StageExtract)).Inc()
			degraded = append(degraded, StageExtract)
			continue
		}
		elements = append(elements, elems...)
	}
	return DedupeElements(elements), degraded
}

// queryStages runs graph reasoning and case matching concurrently.
// Each stage carries its own timeout; a timed-out or failed stage
// contributes an empty result, and late results are dropped rather
// than consumed after the join.
func (a *Analyzer) queryStages(ctx context.Context, elements []FaultElement, queryText string) ([]ReasoningPath, []ScoredCase, []Stage) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		paths    []ReasoningPath
		cases    []ScoredCase
		degraded []Stage
	)

	markDegraded := func(stage Stage, err error) {
		mu.Lock()
		degraded = append(degraded, stage)
		mu.Unlock()
		stageDegradedTotal.WithLabelValues(string(stage)).Inc()
		a.logger.WithError(err).WithField("stage", stage).Warn("Stage degraded to empty contribution")
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		gctx, cancel := context.WithTimeout(ctx, a.config.GraphTimeout)
		defer cancel()

		p, err := a.reasoner.Reason(gctx, elements, a.config.MaxDepth)
		if err != nil {
			markDegraded(StageGraph, err)
			return
		}
		mu.Lock()
		paths = p
		mu.Unlock()
		a.logger.WithFields(logrus.Fields{
			"state":      StateGraphQueried,
			"path_count": len(p),
		}).Debug("Graph reasoning completed")
	}()
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, a.config.CaseTimeout)
		defer cancel()

		sc, err := a.index.Query(cctx, queryText, a.config.TopK, a.config.MinSimilarity)
		if err != nil {
			markDegraded(StageCases, err)
			return
		}
		mu.Lock()
		cases = sc
		mu.Unlock()
		a.logger.WithFields(logrus.Fields{
			"state":      StateCasesMatched,
			"case_count": len(sc),
		}).Debug("Case matching completed")
	}()
	wg.Wait()

	return paths, cases, degraded
}

// alarmHints collects check-list entries for every alarm code the
// request carries, extracted or supplied as context.
func (a *Analyzer) alarmHints(elements []FaultElement, qc *QueryContext) []string {
	var hints []string
	for _, el := range elements {
		if el.Category == CategoryAlarmCode {
			hints = append(hints, AlarmHints(el.Content)...)
		}
	}
	if qc != nil && qc.AlarmCode != "" {
		hints = append(hints, AlarmHints(qc.AlarmCode)...)
	}
	return hints
}

// caseQueryText builds the retrieval query from the description plus
// any equipment context, mirroring how cases were indexed.
func (a *Analyzer) caseQueryText(cleaned string, qc *QueryContext) string {
	parts := []string{cleaned}
	if qc != nil {
		parts = append(parts, qc.RelatedPhenomena...)
		for _, s := range []string{qc.EquipmentBrand, qc.Model, qc.AlarmCode} {
			if s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// RecordFeedback re-runs extraction and case matching against the
// original question, locates the case carrying the chosen solution,
// and adjusts its feedback weight proportionally to effectiveness.
// Highly effective feedback on a solution no case covers creates a new
// case so future queries can retrieve it.
func (a *Analyzer) RecordFeedback(ctx context.Context, question, chosenSolution string, effectiveness float64) error {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(chosenSolution) == "" {
		return errors.Wrap(ErrEmptyInput, "feedback requires a question and a chosen solution")
	}
	effectiveness = clamp01(effectiveness)

	cleaned := a.normalizer.Clean(question)
	matches, err := a.index.Query(ctx, cleaned, a.config.TopK, a.config.MinSimilarity)
	if err != nil {
		return errors.Wrap(err, "feedback case lookup failed")
	}

	target := normalizeCandidateText(chosenSolution)
	for _, sc := range matches {
		for _, sol := range sc.Case.Solutions {
			if normalizeCandidateText(sol) != target {
				continue
			}
			delta := effectiveness - 0.5
			if err := a.index.UpdateFeedback(ctx, sc.Case.ID, delta); err != nil {
				return errors.Wrapf(err, "updating feedback for case %s", sc.Case.ID)
			}
			a.logger.WithFields(logrus.Fields{
				"case_id":       sc.Case.ID,
				"effectiveness": effectiveness,
			}).Info("Feedback recorded against existing case")
			return nil
		}
	}

	if effectiveness < a.config.NewCaseThreshold {
		a.logger.WithField("effectiveness", effectiveness).Info("Feedback below new-case threshold, no case created")
		return nil
	}

	elements, _ := a.extractElements(ctx, cleaned, nil)
	newCase := FaultCase{
		ID:             uuid.New().String(),
		Description:    question,
		Causes:         elementContents(elements, CategoryPhenomenon),
		Solutions:      []string{chosenSolution},
		FeedbackWeight: 1.0,
		CreatedAt:      time.Now(),
	}
	if err := a.index.AddCase(ctx, newCase); err != nil {
		return errors.Wrap(err, "adding feedback case")
	}
	a.logger.WithField("case_id", newCase.ID).Info("Feedback created a new case")
	return nil
}

// AddCase appends a historical case to the similarity corpus.
func (a *Analyzer) AddCase(ctx context.Context, c FaultCase) error {
	return a.index.AddCase(ctx, c)
}

// Status probes the pipeline's collaborators.
func (a *Analyzer) Status(ctx context.Context) SystemStatus {
	status := SystemStatus{CaseCount: a.index.Count()}
	if a.graphStore != nil {
		status.GraphStoreUp = a.graphStore.Ping(ctx) == nil
	}
	status.TaggerServiceUp = a.extractor.Available(ctx)
	return status
}

// DedupeElements removes duplicate (content, category) pairs, keeping
// the highest-confidence instance. Discovery order of the survivors is
// preserved.
func DedupeElements(elements []FaultElement) []FaultElement {
	byKey := make(map[string]int, len(elements))
	out := make([]FaultElement, 0, len(elements))
	for _, e := range elements {
		key := e.Key()
		if idx, ok := byKey[key]; ok {
			if e.Confidence > out[idx].Confidence {
				out[idx] = e
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, e)
	}
	return out
}

func elementContents(elements []FaultElement, category FaultCategory) []string {
	var out []string
	for _, e := range elements {
		if e.Category == category {
			out = append(out, e.Content)
		}
	}
	return out
}
