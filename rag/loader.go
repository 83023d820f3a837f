package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

// ErrUnsupportedFormat is returned for file extensions no loader handles.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// SupportedExtensions lists the file extensions LoadDocument accepts.
func SupportedExtensions() []string {
	return []string{".pdf", ".txt", ".md", ".html", ".htm"}
}

// LoadDocument parses the file at path into documents. PDFs yield one document per
// page; other formats yield a single document. Every document carries the file's
// base name under the "source" metadata key.
func LoadDocument(ctx context.Context, path string) ([]schema.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(SupportedExtensions(), ext) {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, ext, strings.Join(SupportedExtensions(), ", "))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var docs []schema.Document
	switch ext {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		docs, err = documentloaders.NewPDF(f, info.Size()).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("parse pdf: %w", err)
		}
	case ".txt", ".md":
		docs, err = documentloaders.NewText(f).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("read text: %w", err)
		}
	case ".html", ".htm":
		doc, err := loadHTML(f)
		if err != nil {
			return nil, err
		}
		docs = []schema.Document{doc}
	}

	source := filepath.Base(path)
	out := docs[:0]
	for _, d := range docs {
		if strings.TrimSpace(d.PageContent) == "" {
			continue
		}
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		d.Metadata["source"] = source
		out = append(out, d)
	}
	return out, nil
}

func loadHTML(f *os.File) (schema.Document, error) {
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return schema.Document{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		b.WriteString(s.Text())
	})
	text := collapseBlankLines(b.String())

	meta := map[string]any{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	return schema.Document{PageContent: text, Metadata: meta}, nil
}

// collapseBlankLines trims every line and keeps at most one empty line in a row.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
