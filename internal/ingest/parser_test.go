package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverhq/quiver/internal/apperr"
)

func TestSupportedExtension(t *testing.T) {
	assert.True(t, SupportedExtension("notes.txt"))
	assert.True(t, SupportedExtension("README.md"))
	assert.True(t, SupportedExtension("page.HTML"))
	assert.True(t, SupportedExtension("scan.jpeg"))
	assert.False(t, SupportedExtension("report.pdf"))
	assert.False(t, SupportedExtension("archive.zip"))
	assert.False(t, SupportedExtension("no-extension"))
}

func TestParsePlainText(t *testing.T) {
	parsed, err := Parse("notes.txt", []byte("hello world\nsecond line"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond line", parsed.Text)
	assert.Equal(t, "txt", parsed.Metadata["source_format"])
}

func TestParsePlainTextRejectsBinary(t *testing.T) {
	_, err := Parse("notes.txt", []byte{0xff, 0xfe, 0x00, 0x01})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestParseUnsupportedType(t *testing.T) {
	_, err := Parse("report.pdf", []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupportedMedia, apperr.KindOf(err))
}

func TestParseMarkdown(t *testing.T) {
	src := []byte("# Title\n\nFirst paragraph with **bold** text.\n\n- item one\n- item two\n\n```\ncode line\n```\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	parsed, err := Parse("doc.md", src)
	require.NoError(t, err)

	assert.Contains(t, parsed.Text, "Title")
	assert.Contains(t, parsed.Text, "First paragraph with bold text.")
	assert.Contains(t, parsed.Text, "item one")
	assert.Contains(t, parsed.Text, "code line")
	assert.Contains(t, parsed.Text, "1")
	assert.NotContains(t, parsed.Text, "**")
	assert.NotContains(t, parsed.Text, "```")

	// Heading and paragraph stay on separate lines so the chunker
	// sees the block structure.
	assert.NotContains(t, parsed.Text, "Title First")
}

func TestParseHTML(t *testing.T) {
	src := []byte(`<html><head><title>Deploy Guide</title>
<style>body { color: red }</style></head>
<body><h1>Deploying</h1>
<script>alert("nope")</script>
<p>Run the installer.</p>
<ul><li>step one</li><li>step two</li></ul>
</body></html>`)

	parsed, err := Parse("guide.html", src)
	require.NoError(t, err)

	assert.Contains(t, parsed.Text, "Deploying")
	assert.Contains(t, parsed.Text, "Run the installer.")
	assert.Contains(t, parsed.Text, "step one")
	assert.NotContains(t, parsed.Text, "alert")
	assert.NotContains(t, parsed.Text, "color: red")
	assert.Equal(t, "Deploy Guide", parsed.Metadata["title"])
}

func TestParseHTMLWithoutStructure(t *testing.T) {
	parsed, err := Parse("fragment.htm", []byte("<div>bare   text</div>"))
	require.NoError(t, err)
	assert.Equal(t, "bare text", parsed.Text)
}

func TestParseImageSkipsOCR(t *testing.T) {
	parsed, err := Parse("scan.png", []byte{0x89, 0x50, 0x4e, 0x47})
	require.NoError(t, err)
	assert.Empty(t, parsed.Text)
	assert.Equal(t, true, parsed.Metadata["ocr_skipped"])
	assert.Equal(t, "png", parsed.Metadata["source_format"])
}
