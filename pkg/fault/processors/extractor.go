package processors

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/hecongqing/shukongdashi/pkg/fault"
)

var extractedElements = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fault_elements_extracted_total",
		Help: "Number of fault elements extracted",
	},
	[]string{"category", "source"},
)

func init() {
	prometheus.MustRegister(extractedElements)
}

// maxElementsPerText caps extraction output; the highest-confidence
// elements survive, re-sorted by position.
const maxElementsPerText = 15

// taggerTypeMap translates external tagger entity types into fault
// categories. Unmapped types are dropped.
var taggerTypeMap = map[string]fault.FaultCategory{
	"OPERATION":     fault.CategoryOperation,
	"FAULT_SYMPTOM": fault.CategoryPhenomenon,
	"PHENOMENON":    fault.CategoryPhenomenon,
	"FAULT_CAUSE":   fault.CategoryPhenomenon,
	"EQUIPMENT":     fault.CategoryLocation,
	"COMPONENT":     fault.CategoryLocation,
	"PART":          fault.CategoryLocation,
	"LOCATION":      fault.CategoryLocation,
	"ALARM_CODE":    fault.CategoryAlarmCode,
	"FAULT_CODE":    fault.CategoryAlarmCode,
}

// ElementExtractor classifies spans of fault text into typed elements.
// It prefers the external tagging capability and falls back to the
// local dictionary when the service is down or errors; alarm-code
// patterns are checked on every run.
type ElementExtractor struct {
	tagger     EntityTagger
	dictionary *Dictionary
	logger     *logrus.Logger
}

// NewElementExtractor creates an extractor. tagger may be nil, in
// which case extraction is dictionary-only.
func NewElementExtractor(tagger EntityTagger, dictionary *Dictionary) *ElementExtractor {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if dictionary == nil {
		dictionary = NewDictionary()
	}
	return &ElementExtractor{
		tagger:     tagger,
		dictionary: dictionary,
		logger:     logger,
	}
}

// Extract returns the deduplicated fault elements of one text. Tagger
// failures downgrade to the dictionary and never propagate.
func (e *ElementExtractor) Extract(ctx context.Context, text string) ([]fault.FaultElement, error) {
	if strings.TrimSpace(text) == "" {
		return []fault.FaultElement{}, nil
	}

	var elements []fault.FaultElement
	tagged := false

	if e.tagger != nil {
		ents, err := e.tagger.Tag(ctx, text)
		if err != nil {
			e.logger.WithError(err).Warn("Tagger service failed, falling back to dictionary")
		} else {
			elements = append(elements, e.mapTagged(ents)...)
			tagged = true
		}
	}
	if !tagged {
		for _, el := range e.dictionary.Match(text) {
			extractedElements.WithLabelValues(string(el.Category), "dictionary").Inc()
			elements = append(elements, el)
		}
	}

	// Alarm codes are high-precision, low-recall: always pattern-check.
	for _, el := range MatchAlarmCodes(text) {
		extractedElements.WithLabelValues(string(el.Category), "pattern").Inc()
		elements = append(elements, el)
	}

	return postProcess(elements), nil
}

// Available reports whether the external tagging capability is
// reachable.
func (e *ElementExtractor) Available(ctx context.Context) bool {
	return e.tagger != nil && e.tagger.Available(ctx)
}

func (e *ElementExtractor) mapTagged(entities []TaggedEntity) []fault.FaultElement {
	var out []fault.FaultElement
	for _, ent := range entities {
		category, ok := taggerTypeMap[strings.ToUpper(ent.Type)]
		if !ok {
			continue
		}
		extractedElements.WithLabelValues(string(category), "tagger").Inc()
		el := fault.FaultElement{
			Content:    ent.Name,
			Category:   category,
			Confidence: clampUnit(ent.Confidence),
		}
		if ent.End > ent.Start {
			el.Span = &fault.Span{Start: ent.Start, End: ent.End}
		}
		out = append(out, el)
	}
	return out
}

// clampUnit bounds a confidence reported by the external tagger into
// [0,1]; the dictionary and pattern paths are bounded by construction.
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// postProcess dedupes on (content, category), drops one-rune noise
// except alarm codes, caps by confidence, and restores positional
// order.
func postProcess(elements []fault.FaultElement) []fault.FaultElement {
	deduped := fault.DedupeElements(elements)

	filtered := deduped[:0]
	for _, el := range deduped {
		if el.Category != fault.CategoryAlarmCode && utf8.RuneCountInString(el.Content) < 2 {
			continue
		}
		filtered = append(filtered, el)
	}

	if len(filtered) > maxElementsPerText {
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].Confidence > filtered[j].Confidence
		})
		filtered = filtered[:maxElementsPerText]
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return spanStart(filtered[i]) < spanStart(filtered[j])
	})
	return filtered
}

func spanStart(el fault.FaultElement) int {
	if el.Span != nil {
		return el.Span.Start
	}
	return 0
}
