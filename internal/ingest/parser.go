package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/quiverhq/quiver/internal/apperr"
)

// Parsed is the extracted text of one document plus per-document
// metadata carried onto every chunk.
type Parsed struct {
	Text     string
	Metadata map[string]any
}

// supportedExtensions maps a lowercased file extension to its parse
// routine. Image formats are accepted but parse to nothing until an
// OCR extractor is configured; the skip is recorded in metadata so the
// document completes with zero chunks instead of failing.
var supportedExtensions = map[string]func(data []byte) (*Parsed, error){
	".txt":      parsePlainText,
	".md":       parseMarkdown,
	".markdown": parseMarkdown,
	".html":     parseHTML,
	".htm":      parseHTML,
	".png":      parseImage,
	".jpg":      parseImage,
	".jpeg":     parseImage,
}

// SupportedExtension reports whether filename has a parseable
// extension. The upload handler checks this before accepting the file
// so unsupported types are rejected without buffering the body.
func SupportedExtension(filename string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Parse extracts text from the file content based on its extension.
func Parse(filename string, data []byte) (*Parsed, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	parse, ok := supportedExtensions[ext]
	if !ok {
		return nil, apperr.New(apperr.KindUnsupportedMedia, "UNSUPPORTED_MEDIA_TYPE",
			fmt.Sprintf("unsupported file type %q", ext))
	}
	parsed, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}
	if parsed.Metadata == nil {
		parsed.Metadata = map[string]any{}
	}
	parsed.Metadata["source_format"] = strings.TrimPrefix(ext, ".")
	return parsed, nil
}

func parsePlainText(data []byte) (*Parsed, error) {
	if !utf8.Valid(data) {
		return nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "file is not valid UTF-8 text")
	}
	return &Parsed{Text: string(data)}, nil
}

// parseMarkdown walks the goldmark AST and emits the text content with
// block boundaries preserved as newlines, so the chunker never glues a
// heading onto the paragraph that follows it.
func parseMarkdown(data []byte) (*Parsed, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(text.NewReader(data))

	var sb strings.Builder
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if isBlockBoundary(n) && sb.Len() > 0 {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(data))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.AutoLink:
			sb.Write(node.URL(data))
		case *ast.CodeBlock:
			writeLines(&sb, node, data)
		case *ast.FencedCodeBlock:
			writeLines(&sb, node, data)
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return &Parsed{Text: strings.TrimSpace(sb.String())}, nil
}

func isBlockBoundary(n ast.Node) bool {
	switch n.(type) {
	case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.Blockquote,
		*ast.CodeBlock, *ast.FencedCodeBlock, *ast.ThematicBreak:
		return true
	}
	// Table rows from the GFM extension are block-level too; anything
	// goldmark classifies as a block gets a boundary.
	return n.Type() == ast.TypeBlock
}

func writeLines(sb *strings.Builder, n ast.Node, data []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(data))
	}
}

// parseHTML strips markup and script content, keeping the rendered
// text of the body.
func parseHTML(data []byte) (*Parsed, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "file is not parseable HTML")
	}

	doc.Find("script, style, noscript, template").Remove()

	meta := map[string]any{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}

	var sb strings.Builder
	sel.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Skip elements that contain other collected elements to avoid
		// emitting nested text twice.
		if s.Find("p, li, td, th, pre, blockquote").Length() > 0 {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			sb.WriteString(t)
			sb.WriteString("\n")
		}
	})
	out := strings.TrimSpace(sb.String())
	if out == "" {
		// Markup without structural elements still may carry text.
		out = collapseSpace(sel.Text())
	}
	return &Parsed{Text: out, Metadata: meta}, nil
}

// parseImage yields no text until an OCR extractor is wired in. The
// document still completes, with metadata explaining the empty result.
func parseImage(_ []byte) (*Parsed, error) {
	return &Parsed{
		Text:     "",
		Metadata: map[string]any{"ocr_skipped": true},
	}, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
