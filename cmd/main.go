package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/pkg/config"
	"github.com/lichenchen/pharmaquery/pkg/ingest"
	"github.com/lichenchen/pharmaquery/pkg/llm"
	"github.com/lichenchen/pharmaquery/pkg/rerank"
	"github.com/lichenchen/pharmaquery/pkg/splitter"
	"github.com/lichenchen/pharmaquery/pkg/store"
	"github.com/lichenchen/pharmaquery/server"
)

type flags struct {
	configPath string
	serve      bool
	addr       string
	ingest     bool
	deleteID   string
	noThink    bool
	backend    string
	storeURL   string
}

func main() {
	f := parseFlags()

	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		log.Fatal(err)
	}
	if f.noThink {
		cfg.LLM.NoThink = true
	}
	if f.backend != "" {
		cfg.Store.Backend = f.backend
	}
	if f.storeURL != "" {
		cfg.Store.URL = f.storeURL
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	if f.serve {
		srv, err := server.New(cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer srv.Close()
		log.Fatal(srv.ListenAndServe(f.addr))
		return
	}

	if err := run(cfg, f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.BoolVar(&f.serve, "serve", false, "Run the HTTP/WebSocket service instead of the CLI")
	flag.StringVar(&f.addr, "addr", ":8080", "Service listen address")
	flag.BoolVar(&f.ingest, "ingest", false, "Ingest the given files or URLs and exit")
	flag.StringVar(&f.deleteID, "delete", "", "Delete all chunks for the given source id and exit")
	flag.BoolVar(&f.noThink, "no-think", false, "Strip reasoning blocks from responses")
	flag.StringVar(&f.backend, "backend", "", "Vector store backend (pgvector or chroma)")
	flag.StringVar(&f.storeURL, "store-url", os.Getenv("DATABASE_URL"), "Vector store connection URL")
	flag.Parse()
	return f
}

func run(cfg *config.Config, f flags) error {
	ctx := context.Background()

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	vectorStore, err := store.NewWithConfig(store.Config{
		Backend:    store.Backend(cfg.Store.Backend),
		URL:        cfg.Store.URL,
		Collection: cfg.Store.Collection,
		VectorDim:  cfg.Embedding.Dimension,
		BatchSize:  cfg.Store.BatchSize,
	}, embedder)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	if f.deleteID != "" {
		found, err := vectorStore.DeleteBySource(ctx, f.deleteID)
		if err != nil {
			return err
		}
		if !found {
			color.Yellow("No chunks found for source %s", f.deleteID)
			return nil
		}
		color.Green("✓ Deleted source %s", f.deleteID)
		return nil
	}

	ingestor := ingest.NewWithConfig(ingest.IngestorConfig{
		TempDir: cfg.Ingest.TempDir,
		Splitter: splitter.SplitterConfig{
			ChunkSize:    cfg.Splitter.ChunkSize,
			ChunkOverlap: cfg.Splitter.ChunkOverlap,
		},
	}, vectorStore)

	if f.ingest {
		return ingestFiles(ctx, ingestor, flag.Args())
	}

	reranker := rerank.NewWithConfig(rerank.RerankConfig{
		Enabled: cfg.Rerank.Enabled,
		BaseURL: cfg.Rerank.BaseURL,
		APIKey:  cfg.Rerank.APIKey,
		Model:   cfg.Rerank.Model,
		TopK:    cfg.Rerank.TopK,
	})

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		SearchK:     cfg.LLM.SearchK,
		NoThink:     cfg.LLM.NoThink,
	}, vectorStore, reranker)
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	return chatLoop(ctx, chatEngine)
}

func ingestFiles(ctx context.Context, ingestor *ingest.Ingestor, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no files given to ingest")
	}

	uploads := make([]ingest.Upload, len(paths))
	for i, path := range paths {
		uploads[i] = ingest.Upload{Name: path}
	}

	bar := getProgressBar(len(paths), " Ingesting documents...")
	results := ingestor.IngestAll(ctx, uploads)
	bar.Finish()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			color.Red("✗ %s: %v", res.Name, res.Err)
			continue
		}
		color.Green("✓ %s: %d chunks, source %s", res.Name, res.ChunkCount, res.Source.ID)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func chatLoop(ctx context.Context, chatEngine *llm.ChatEngine) error {
	color.Cyan("\nChat with your document base (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var history []models.Message

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		stream, err := chatEngine.ChatStream(ctx, query, history)
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		fmt.Print("\n")
		assistantPrompt("Assistant: ")

		spinner := getSpinner(" Thinking...")
		firstToken := true
		var answer strings.Builder
		failed := false

		for token := range stream {
			if token.Err != nil {
				spinner.Finish()
				color.Red("\nError: %v", token.Err)
				failed = true
				break
			}
			if firstToken {
				spinner.Finish()
				firstToken = false
			}
			fmt.Print(token.Content)
			answer.WriteString(token.Content)
		}
		if firstToken {
			spinner.Finish()
		}
		fmt.Print("\n")

		if !failed && answer.Len() > 0 {
			history = append(history,
				models.Message{Role: models.RoleUser, Content: query},
				models.Message{Role: models.RoleAssistant, Content: answer.String()},
			)
		}
	}

	return nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
