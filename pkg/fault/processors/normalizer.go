package processors

import (
	"strings"
	"unicode"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jdkato/prose/v2"
)

// defaultStopwords mixes the Chinese function words that dominate fault
// descriptions with the English basics.
var defaultStopwords = mapset.NewSet[string](
	"的", "了", "在", "是", "我", "有", "和", "就", "不", "人", "都", "一", "一个",
	"上", "也", "很", "到", "说", "要", "去", "你", "会", "着", "没有", "看", "好",
	"自己", "这", "当", "下", "能", "过", "时", "得", "对", "可以", "但是", "后",
	"那", "来", "用", "她", "们", "大", "里", "以", "可", "这个",
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by", "is", "it",
)

var sentenceDelimiters = map[rune]bool{
	'。': true, '！': true, '？': true, '；': true,
	';': true, '!': true, '?': true, '\n': true,
}

// TextNormalizer cleans and tokenizes raw fault descriptions. Pure and
// deterministic; no I/O.
type TextNormalizer struct {
	stopwords mapset.Set[string]
}

// NewTextNormalizer creates a normalizer, optionally extending the
// default stopword list.
func NewTextNormalizer(extraStopwords ...string) *TextNormalizer {
	stopwords := defaultStopwords.Clone()
	for _, w := range extraStopwords {
		stopwords.Add(strings.ToLower(w))
	}
	return &TextNormalizer{stopwords: stopwords}
}

// Clean collapses whitespace and strips characters that carry no
// signal for diagnosis. Sentence punctuation survives so Sentences can
// still split on it.
func (n *TextNormalizer) Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case sentenceDelimiters[r]:
			b.WriteRune(r)
		case r == '，' || r == ',' || r == '：' || r == ':' || r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Sentences splits cleaned text on sentence punctuation. Empty
// fragments are dropped.
func (n *TextNormalizer) Sentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return sentenceDelimiters[r]
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Tokens segments cleaned text into lowercase tokens with stopwords
// and pure punctuation removed. Latin-script text goes through prose;
// CJK text, which prose has no model for, is segmented by rune class
// with bigram expansion over Han runs.
func (n *TextNormalizer) Tokens(text string) []string {
	cleaned := n.Clean(text)
	if cleaned == "" {
		return nil
	}
	if !containsHan(cleaned) {
		if tokens, ok := n.proseTokens(cleaned); ok {
			return tokens
		}
	}
	return n.runeTokens(cleaned)
}

func (n *TextNormalizer) proseTokens(text string) ([]string, bool) {
	doc, err := prose.NewDocument(text, prose.WithExtraction(false), prose.WithTagging(false))
	if err != nil {
		return nil, false
	}
	tokens := make([]string, 0, len(doc.Tokens()))
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(strings.TrimSpace(tok.Text))
		if word == "" || isPunctuation(word) || n.stopwords.Contains(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens, true
}

// runeTokens emits ASCII alphanumeric runs as single tokens and Han
// runs as overlapping bigrams, which is enough for term-vector overlap
// without a segmentation dictionary.
func (n *TextNormalizer) runeTokens(text string) []string {
	var tokens []string
	var latin []rune
	var han []rune

	flushLatin := func() {
		if len(latin) > 0 {
			word := strings.ToLower(string(latin))
			if !n.stopwords.Contains(word) {
				tokens = append(tokens, word)
			}
			latin = latin[:0]
		}
	}
	flushHan := func() {
		if len(han) == 1 {
			word := string(han)
			if !n.stopwords.Contains(word) {
				tokens = append(tokens, word)
			}
		}
		for i := 0; i+1 < len(han); i++ {
			word := string(han[i : i+2])
			if !n.stopwords.Contains(word) {
				tokens = append(tokens, word)
			}
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			latin = append(latin, r)
		default:
			flushLatin()
			flushHan()
		}
	}
	flushLatin()
	flushHan()
	return tokens
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func isPunctuation(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}
