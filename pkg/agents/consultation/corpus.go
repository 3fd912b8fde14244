package consultation

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/kadirpekel/optica/pkg/vector"
)

// DefaultChunkSize is the target passage length in bytes.
const DefaultChunkSize = 800

// Passage is one indexed chunk of a corpus document.
type Passage struct {
	ID     string
	Source string
	Text   string
}

var supportedExtensions = map[string]bool{".pdf": true, ".docx": true, ".txt": true, ".md": true}

// LoadCorpus reads every supported document under dir and splits it into
// passages. Unreadable files are logged and skipped.
func LoadCorpus(ctx context.Context, dir string, chunkSize int) ([]Passage, error) {
	var out []Passage
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := ReadDocument(path)
		if err != nil {
			slog.Warn("Skipping unreadable document", "path", path, "error", err)
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		for i, chunk := range Chunk(text, chunkSize) {
			out = append(out, Passage{ID: fmt.Sprintf("%s#%d", rel, i), Source: rel, Text: chunk})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus from %s: %w", dir, err)
	}
	return out, nil
}

// ReadDocument extracts the plain text of a .pdf, .docx, .txt or .md file.
func ReadDocument(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return readPDF(path)
	case ".docx":
		return readDocx(path)
	case ".txt", ".md":
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("unsupported document type %q", filepath.Ext(path))
	}
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var pages []string
	for n := 1; n <= r.NumPage(); n++ {
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("PDF page extraction failed", "path", path, "page", n, "error", err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

func readDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open Word document: %w", err)
	}
	defer doc.Close()

	raw := docxParagraphEnd.ReplaceAllString(doc.Editable().GetContent(), "\n\n")
	text := xmlTag.ReplaceAllString(raw, "")
	replacer := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
	return replacer.Replace(text), nil
}

// Chunk splits text on blank lines and packs paragraphs into chunks of about
// size bytes. A paragraph longer than size is split on word boundaries.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range splitParagraphs(text) {
		if len(para) > size {
			flush()
			chunks = append(chunks, splitWords(para, size)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitWords(para string, size int) []string {
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(para) {
		if cur.Len() > 0 && cur.Len()+len(w)+1 > size {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// IndexPassages stores passages in the index, keyed by passage id.
func IndexPassages(ctx context.Context, ix *vector.Index, passages []Passage) error {
	docs := make([]vector.Document, 0, len(passages))
	for _, p := range passages {
		docs = append(docs, vector.Document{
			ID:       p.ID,
			Content:  p.Text,
			Metadata: map[string]string{"source": p.Source},
		})
	}
	return ix.Add(ctx, docs)
}
