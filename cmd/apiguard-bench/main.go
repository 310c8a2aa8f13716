package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/straja-ai/apiguard/internal/config"
	"github.com/straja-ai/apiguard/internal/inspect"
	"github.com/straja-ai/apiguard/internal/safety"
)

func main() {
	cfgPath := flag.String("config", "", "optional config yaml providing signal vocabularies")
	n := flag.Int("n", 10000, "number of iterations")
	spec := flag.String("spec", "POST /payments {card_number, cvv, amount}", "API spec text to analyze")
	intent := flag.String("intent", "charge the customer immediately", "user intent to analyze")
	flag.Parse()

	vocab := safety.DefaultVocabulary()
	if *cfgPath != "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		vocab = safety.NewVocabulary(cfg.Signals.SensitiveTokens, cfg.Signals.ThreatTokens, cfg.Signals.UrgencyTokens)
	}

	pipeline := inspect.New(safety.NewExtractor(vocab))
	in := safety.Input{
		APISpec:          *spec,
		UserIntent:       *intent,
		ConstructedInput: map[string]any{"amount": 10},
	}
	ctx := context.Background()

	// Warmup
	for i := 0; i < 100; i++ {
		if err := pipeline.Run(ctx, in).Err(); err != nil {
			log.Fatalf("warmup analysis failed: %v", err)
		}
	}

	if *n <= 0 {
		*n = 1
	}

	durations := make([]time.Duration, 0, *n)
	var last inspect.Outcome
	for i := 0; i < *n; i++ {
		start := time.Now()
		res := pipeline.Run(ctx, in)
		durations = append(durations, time.Since(start))
		if err := res.Err(); err != nil {
			log.Fatalf("analysis failed: %v", err)
		}
		last = inspect.FailClosed(res, nil)
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	avg := float64(total.Nanoseconds()) / 1000.0 / float64(len(durations))
	p50 := float64(durations[len(durations)/2].Nanoseconds()) / 1000.0
	p95 := float64(durations[int(float64(len(durations))*0.95)].Nanoseconds()) / 1000.0

	fmt.Printf("bench: n=%d avg_us=%.2f p50_us=%.2f p95_us=%.2f threat=%t sensitive=%t urgency=%t components=%v\n",
		len(durations),
		avg,
		p50,
		p95,
		last.Verdict.Threat,
		last.Verdict.SensitiveRequest,
		last.Verdict.Urgency,
		last.UIContract.Components,
	)
}
