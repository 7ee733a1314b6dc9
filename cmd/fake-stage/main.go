// ABOUTME: Fake analysis stage server for E2E testing, serving all five stages plus the generator.
// ABOUTME: Usage: fake-stage [-addr localhost:7710] [-config sim.toml]

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"
)

var stageNames = []string{
	"transcription",
	"vocal-emotion",
	"video-feature",
	"contextual-inference",
	"cause-extraction",
}

// stageSpec is one stage's canned behavior. An empty result makes the
// transcription stage echo the payload; other stages fall back to a
// built-in default.
type stageSpec struct {
	Result     string  `toml:"result"`
	Confidence float64 `toml:"confidence"`
	Latency    string  `toml:"latency"`
	FailRate   float64 `toml:"fail_rate"`
}

type generatorSpec struct {
	Reply   string `toml:"reply"`
	Latency string `toml:"latency"`
}

type simConfig struct {
	Addr      string               `toml:"addr"`
	Generator generatorSpec        `toml:"generator"`
	Stages    map[string]stageSpec `toml:"stages"`
}

var defaultResults = map[string]string{
	"vocal-emotion":        "neutral",
	"video-feature":        "no notable visual cues",
	"contextual-inference": "casual conversation",
	"cause-extraction":     "none identified",
}

type invokeRequest struct {
	Payload string `json:"payload"`
	Prior   *struct {
		Transcript string `json:"transcript"`
	} `json:"prior,omitempty"`
}

type invokeResponse struct {
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence,omitempty"`
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func main() {
	addr := flag.String("addr", "localhost:7710", "listen address")
	configPath := flag.String("config", "", "optional TOML file with canned outputs")
	flag.Parse()

	cfg := simConfig{Addr: *addr}
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			log.Fatalf("loading config: %v", err)
		}
		if cfg.Addr == "" {
			cfg.Addr = *addr
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg simConfig) error {
	mux := http.NewServeMux()

	for _, name := range stageNames {
		spec := cfg.Stages[name]
		latency, err := parseLatency(spec.Latency)
		if err != nil {
			return fmt.Errorf("stages.%s.latency: %w", name, err)
		}
		mux.HandleFunc("/"+name+"/invoke", invokeHandler(name, spec, latency))
		mux.HandleFunc("/"+name+"/healthz", okHandler)
	}

	genLatency, err := parseLatency(cfg.Generator.Latency)
	if err != nil {
		return fmt.Errorf("generator.latency: %w", err)
	}
	mux.HandleFunc("/generate", generateHandler(cfg.Generator.Reply, genLatency))
	mux.HandleFunc("/healthz", okHandler)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("fake-stage listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func parseLatency(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func invokeHandler(name string, spec stageSpec, latency time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}

		if !sleep(r.Context(), latency) {
			return
		}
		if spec.FailRate > 0 && rand.Float64() < spec.FailRate {
			log.Printf("[%s] simulated failure", name)
			http.Error(w, "simulated failure", http.StatusInternalServerError)
			return
		}

		result := spec.Result
		if result == "" {
			if name == "transcription" {
				result = req.Payload
			} else {
				result = defaultResults[name]
			}
		}
		confidence := spec.Confidence
		if confidence == 0 {
			confidence = 0.9
		}

		prior := ""
		if req.Prior != nil {
			prior = req.Prior.Transcript
		}
		log.Printf("[%s] invoke payload_len=%d prior_len=%d -> %q", name, len(req.Payload), len(prior), result)

		writeJSON(w, invokeResponse{Result: result, Confidence: confidence})
	}
}

func generateHandler(reply string, latency time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}

		if !sleep(r.Context(), latency) {
			return
		}

		text := reply
		if text == "" {
			text = "I hear you. Tell me more about what's on your mind."
		}
		log.Printf("[generator] prompt_len=%d max_tokens=%d -> %q", len(req.Prompt), req.MaxTokens, text)

		writeJSON(w, generateResponse{Text: text})
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// sleep waits for the configured latency, reporting false if the client
// went away first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}
