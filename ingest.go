package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/creatorlens/onboarding-rag/schema"
)

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 100
)

var ErrEmptyText = errors.New("ingest: empty text")

// IngestRequest is a knowledge article to split and index.
type IngestRequest struct {
	Text     string
	Title    string
	Source   string
	Tags     []string
	Metadata map[string]string
}

// Ingest splits the text into chunks and adds them to every index.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) ([]schema.Document, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	chunks := splitText(req.Text, defaultChunkSize, defaultChunkOverlap)
	now := time.Now().UTC()
	docs := make([]schema.Document, 0, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]any, len(req.Metadata)+6)
		for k, v := range req.Metadata {
			meta[k] = v
		}
		meta["chunk_index"] = i
		meta["chunk_size"] = utf8.RuneCountInString(chunk)
		meta["created_at"] = now.Format(time.RFC3339)
		if req.Title != "" {
			meta["title"] = req.Title
		}
		if req.Source != "" {
			meta["source"] = req.Source
		}
		if len(req.Tags) > 0 {
			meta["tags"] = strings.Join(req.Tags, ",")
		}
		docs = append(docs, schema.Document{ID: uuid.New().String(), Content: chunk, Metadata: meta})
	}
	if err := c.retrieval.Ingest(ctx, docs); err != nil {
		return nil, fmt.Errorf("ingest %q: %w", req.Title, err)
	}
	return docs, nil
}

// Delete removes chunks from every index.
func (c *Client) Delete(ctx context.Context, ids ...string) error {
	return c.retrieval.Delete(ctx, ids...)
}

// splitText packs paragraphs into chunks of at most size runes. Paragraphs
// longer than size are cut into windows that overlap by overlap runes.
func splitText(text string, size, overlap int) []string {
	if overlap >= size {
		overlap = 0
	}
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		n = 0
	}
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		if len(runes) > size {
			flush()
			for start := 0; start < len(runes); start += size - overlap {
				end := min(start+size, len(runes))
				out = append(out, strings.TrimSpace(string(runes[start:end])))
				if end == len(runes) {
					break
				}
			}
			continue
		}
		if n > 0 && n+2+len(runes) > size {
			flush()
		}
		if n > 0 {
			cur.WriteString("\n\n")
			n += 2
		}
		cur.WriteString(para)
		n += len(runes)
	}
	flush()
	return out
}
