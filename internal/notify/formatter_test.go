package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFillsDefaults(t *testing.T) {
	f := NewFormatter(200)
	text := f.Format("", "", "", "")

	assert.Contains(t, text, "From : Unknown")
	assert.Contains(t, text, "Subject : No Subject")
	assert.Contains(t, text, "Text : No content")
}

func TestFormatPrefersTextBody(t *testing.T) {
	f := NewFormatter(200)
	text := f.Format("alice@example.com", "hi", "plain body", "<p>html body</p>")

	assert.Contains(t, text, "From : alice@example.com")
	assert.Contains(t, text, "Subject : hi")
	assert.Contains(t, text, "plain body")
	assert.NotContains(t, text, "html body")
}

func TestFormatFallsBackToHTML(t *testing.T) {
	f := NewFormatter(200)
	text := f.Format("alice@example.com", "hi", "", "<div>only <b>html</b></div>")

	assert.Contains(t, text, "only html")
	assert.NotContains(t, text, "<div>")
}

func TestPreviewStripsTagsAndCollapsesWhitespace(t *testing.T) {
	f := NewFormatter(200)

	got := f.Preview("<p>hello\n\n  <b>world</b></p>\t!")
	assert.Equal(t, "hello world !", got)
}

func TestPreviewTruncatesByRune(t *testing.T) {
	f := NewFormatter(10)

	got := f.Preview(strings.Repeat("好", 30))
	assert.Equal(t, strings.Repeat("好", 10)+"...", got)
}

func TestPreviewExactLimitNotTruncated(t *testing.T) {
	f := NewFormatter(5)

	assert.Equal(t, "abcde", f.Preview("abcde"))
}

func TestPreviewEmptyBody(t *testing.T) {
	f := NewFormatter(200)

	assert.Equal(t, "No content", f.Preview("   <br/>  "))
}
