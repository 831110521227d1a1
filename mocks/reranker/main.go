// Command reranker is a local stand-in for the cross-encoder rerank
// service. It scores candidates by query term overlap.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/creatorlens/onboarding-rag/common/logger"
)

type candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type rerankReq struct {
	Query      string      `json:"query"`
	Candidates []candidate `json:"candidates"`
}

type ranked struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type rerankResp struct {
	Ranking []ranked `json:"ranking"`
}

func overlap(query, text string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func handleRerank(w http.ResponseWriter, r *http.Request) {
	var req rerankReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := rerankResp{Ranking: make([]ranked, 0, len(req.Candidates))}
	for _, c := range req.Candidates {
		out.Ranking = append(out.Ranking, ranked{ID: c.ID, Score: overlap(req.Query, c.Text)})
	}
	sort.SliceStable(out.Ranking, func(i, j int) bool { return out.Ranking[i].Score > out.Ranking[j].Score })
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func main() {
	addr := ":8082"
	if v := os.Getenv("RERANK_ADDR"); v != "" {
		addr = v
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rerank", handleRerank)
	logger.Infof("reranker mock listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("reranker mock: %v", err)
		os.Exit(1)
	}
}
