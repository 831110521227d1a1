// Command evaluator is a local stand-in for the answer evaluation service.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/creatorlens/onboarding-rag/common/logger"
)

type evalReq struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

type evalResp struct {
	Score   float64 `json:"score"`
	Verdict string  `json:"verdict"`
}

func evaluate(req evalReq) evalResp {
	answer := strings.ToLower(strings.TrimSpace(req.Answer))
	switch {
	case answer == "":
		return evalResp{Score: 0, Verdict: "incorrect"}
	case strings.Contains(answer, "i don't know") || strings.Contains(answer, "not sure"):
		return evalResp{Score: 0.2, Verdict: "incorrect"}
	case len(answer) < 40:
		return evalResp{Score: 0.5, Verdict: "ambiguous"}
	default:
		return evalResp{Score: 0.9, Verdict: "correct"}
	}
}

func handleEval(w http.ResponseWriter, r *http.Request) {
	var req evalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(evaluate(req))
}

func main() {
	addr := ":8081"
	if v := os.Getenv("EVAL_ADDR"); v != "" {
		addr = v
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/eval", handleEval)
	logger.Infof("evaluator mock listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("evaluator mock: %v", err)
		os.Exit(1)
	}
}
