package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/straja-ai/apiguard/internal/config"
	"github.com/straja-ai/apiguard/internal/inspect"
	"github.com/straja-ai/apiguard/internal/safety"
)

type report struct {
	inspect.Outcome
	Signals *safety.SignalSet `json:"signals,omitempty"`
}

func main() {
	cfgPath := flag.String("config", "", "optional config yaml providing signal vocabularies")
	showSignals := flag.Bool("signals", false, "include the extracted signals in the output")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: apiguard-inspect [-config file] [-signals] <request.json | ->")
		os.Exit(2)
	}

	in, err := readInput(flag.Arg(0))
	if err != nil {
		log.Fatalf("read request: %v", err)
	}

	vocab := safety.DefaultVocabulary()
	if *cfgPath != "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		vocab = safety.NewVocabulary(cfg.Signals.SensitiveTokens, cfg.Signals.ThreatTokens, cfg.Signals.UrgencyTokens)
	}

	result := inspect.New(safety.NewExtractor(vocab)).Run(context.Background(), in)
	out := report{Outcome: inspect.FailClosed(result, func(err error) {
		log.Printf("analysis failed, conservative outcome applied: %v", err)
	})}
	if *showSignals && result.Err() == nil {
		set := result.Signals()
		out.Signals = &set
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("write outcome: %v", err)
	}
}

func readInput(path string) (safety.Input, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return safety.Input{}, err
		}
		defer f.Close()
		r = f
	}
	var in safety.Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return safety.Input{}, err
	}
	return in, nil
}
