package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanCollapsesWhitespaceAndSpecials(t *testing.T) {
	n := NewTextNormalizer()

	assert.Equal(t, "主轴 不转 报警E60", n.Clean("  主轴\t不转 ##  报警E60\n"))
	assert.Equal(t, "", n.Clean("   \t\n "))
	assert.Equal(t, "", n.Clean(""))
}

func TestSentencesSplitsOnDelimiters(t *testing.T) {
	n := NewTextNormalizer()

	got := n.Sentences("主轴不转。报警E60！需要更换轴承；尽快处理")
	require.Len(t, got, 4)
	assert.Equal(t, "主轴不转", got[0])
	assert.Equal(t, "报警E60", got[1])

	assert.Empty(t, n.Sentences(""))
	assert.Empty(t, n.Sentences("。。！"))
}

func TestTokensLatinViaProse(t *testing.T) {
	n := NewTextNormalizer()

	got := n.Tokens("The spindle stopped rotating")
	assert.Contains(t, got, "spindle")
	assert.Contains(t, got, "stopped")
	assert.NotContains(t, got, "the")
}

func TestTokensCJKBigrams(t *testing.T) {
	n := NewTextNormalizer()

	got := n.Tokens("主轴不转报警E60")
	assert.Contains(t, got, "主轴")
	assert.Contains(t, got, "不转")
	assert.Contains(t, got, "e60")
}

func TestTokensEmptyInput(t *testing.T) {
	n := NewTextNormalizer()

	assert.Empty(t, n.Tokens(""))
	assert.Empty(t, n.Tokens("   "))
}

func TestTokensDeterministic(t *testing.T) {
	n := NewTextNormalizer()

	text := "主轴不转，报警E60，需要更换轴承"
	assert.Equal(t, n.Tokens(text), n.Tokens(text))
}

func TestExtraStopwords(t *testing.T) {
	n := NewTextNormalizer("spindle")

	got := n.Tokens("spindle bearing noise")
	assert.NotContains(t, got, "spindle")
	assert.Contains(t, got, "bearing")
}
