package schema

import "fmt"

// Document is a unit of retrievable knowledge. Branch scores are nil when
// the corresponding retrieval branch did not return the document.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
	GraphScore   *float64 `json:"graph_score,omitempty"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`
}

// SearchResult pairs a document with the score produced by the stage that
// returned it.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// SearchOptions narrows a store or retriever query.
type SearchOptions struct {
	TopK      int
	Threshold float64
	Filters   map[string]string
}

// Source returns the document's source metadata, falling back to its id.
func (d Document) Source() string {
	if s := d.metaString("source"); s != "" {
		return s
	}
	return d.ID
}

// Title returns the "title" metadata value if present.
func (d Document) Title() string { return d.metaString("title") }

func (d Document) metaString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	v, ok := d.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone returns a copy whose metadata map and score pointers are not shared
// with the receiver.
func (d Document) Clone() Document {
	out := d
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	if d.Embedding != nil {
		out.Embedding = append([]float32(nil), d.Embedding...)
	}
	out.VectorScore = copyScore(d.VectorScore)
	out.KeywordScore = copyScore(d.KeywordScore)
	out.GraphScore = copyScore(d.GraphScore)
	out.RerankScore = copyScore(d.RerankScore)
	return out
}

// Score returns a pointer suitable for the optional score fields.
func Score(v float64) *float64 { return &v }

func copyScore(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Documents strips scores from a result list.
func Documents(results []SearchResult) []Document {
	out := make([]Document, len(results))
	for i, r := range results {
		out[i] = r.Document
	}
	return out
}

// Citation references a document that was included in the generation prompt.
type Citation struct {
	Index      int    `json:"index"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source,omitempty"`
	Title      string `json:"title,omitempty"`
}
