package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"driver-locator/locator"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var dbPath string
	var conversationsGlob string
	var copartData string
	var iaaiData string
	var debug bool
	var once bool
	var pollInterval time.Duration
	var fallbackURL string
	var fallbackKey string
	var fallbackModel string

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&dbPath, "db", "locator.db", "SQLite database path.")
	flag.StringVar(&conversationsGlob, "conversations-glob", "", "Glob for conversation dump files from the SMS transport.")
	flag.StringVar(&copartData, "copart-data", "", "Copart gazetteer JSON path.")
	flag.StringVar(&iaaiData, "iaai-data", "", "IAAI gazetteer JSON path.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.BoolVar(&once, "once", false, "Run one correlation pass and exit.")
	flag.DurationVar(&pollInterval, "poll-interval", 5*time.Minute, "Interval between correlation passes.")
	flag.StringVar(&fallbackURL, "fallback-url", "", "OpenAI-compatible base URL for AI fallback extraction (empty disables).")
	flag.StringVar(&fallbackKey, "fallback-key", "", "API key for the fallback endpoint.")
	flag.StringVar(&fallbackModel, "fallback-model", "", "Model name for the fallback endpoint.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	fileCfg := &locator.FileConfig{}
	if configPath != "" {
		cfg, err := locator.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}

	finalDB := fileCfg.DB
	if finalDB == "" || visited["db"] {
		finalDB = dbPath
	}
	finalGlob := fileCfg.ConversationsGlob
	if visited["conversations-glob"] {
		finalGlob = conversationsGlob
	}
	finalCopart := fileCfg.Gazetteer.Copart
	if visited["copart-data"] {
		finalCopart = copartData
	}
	finalIAAI := fileCfg.Gazetteer.IAAI
	if visited["iaai-data"] {
		finalIAAI = iaaiData
	}
	finalDebug := fileCfg.Debug
	if visited["debug"] {
		finalDebug = debug
	}
	finalPoll := fileCfg.PollInterval
	if finalPoll <= 0 {
		finalPoll = 5 * time.Minute
	}
	if visited["poll-interval"] {
		finalPoll = pollInterval
	}
	finalFallbackURL := fileCfg.Fallback.BaseURL
	if visited["fallback-url"] {
		finalFallbackURL = fallbackURL
	}
	finalFallbackKey := fileCfg.Fallback.APIKey
	if visited["fallback-key"] {
		finalFallbackKey = fallbackKey
	}
	finalFallbackModel := fileCfg.Fallback.Model
	if visited["fallback-model"] {
		finalFallbackModel = fallbackModel
	}

	if strings.TrimSpace(finalGlob) == "" {
		fmt.Fprintln(os.Stderr, "missing conversations glob (use --conversations-glob or config.yaml conversations_glob)")
		os.Exit(2)
	}

	var extractor locator.FallbackExtractor
	if strings.TrimSpace(finalFallbackURL) != "" {
		extractor = locator.NewLLMExtractor(locator.LLMConfig{
			BaseURL: finalFallbackURL,
			APIKey:  finalFallbackKey,
			Model:   finalFallbackModel,
			Timeout: fileCfg.Fallback.CallTimeout,
		})
	}

	// The store is wired after NewRunner so the file source shares its DB
	// idempotency tracking; the nil store window only skips dedup.
	source := locator.NewFileConversationSource(finalGlob, nil)

	runner, err := locator.NewRunner(locator.RunnerConfig{
		DBPath:                finalDB,
		Debug:                 finalDebug,
		CopartDataPath:        finalCopart,
		IAAIDataPath:          finalIAAI,
		FallbackMaxConcurrent: fileCfg.Fallback.MaxConcurrent,
		FallbackMinInterval:   fileCfg.Fallback.MinInterval,
		FallbackCallTimeout:   fileCfg.Fallback.CallTimeout,
	}, source, extractor)
	if err != nil {
		log.Fatalf("init runner: %v", err)
	}
	defer runner.Close()
	source.Store = runner.Store()

	if once {
		if err := runner.RunOnce(); err != nil {
			log.Fatalf("run once: %v", err)
		}
		return
	}

	for {
		if err := runner.RunOnce(); err != nil {
			log.Printf("run once error: %v", err)
		}
		time.Sleep(finalPoll)
	}
}
