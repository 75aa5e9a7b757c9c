// Command ingest runs the document corpus through chunking and embedding
// into Qdrant once, reconciling the collection against the directory, and
// prints a per-source summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
	"github.com/AdmissionsAI/kai-engine/engine/embed"
	"github.com/AdmissionsAI/kai-engine/engine/ingest"
	"github.com/AdmissionsAI/kai-engine/engine/semantic"
)

func main() {
	var (
		docsDir    = flag.String("docs", "./docs", "directory of .md/.txt documents")
		qdrantAddr = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection = flag.String("collection", "kai", "Qdrant collection name")
		model      = flag.String("model", embed.DefaultModel, "Gemini embedding model")
		dimension  = flag.Int("dim", embed.DefaultDimension, "embedding dimension")
		chunkSize  = flag.Int("chunk-size", domain.DefaultChunkSize, "chunk size in runes")
		overlap    = flag.Int("overlap", domain.DefaultOverlap, "chunk overlap in runes")
		workers    = flag.Int("workers", 4, "documents ingested in parallel")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Error("GEMINI_API_KEY is not set")
		os.Exit(1)
	}

	embedder, err := embed.New(ctx, apiKey, *model, *dimension)
	if err != nil {
		log.Error("embedder init failed", "error", err)
		os.Exit(1)
	}

	index, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer index.Close()

	pipeline, err := ingest.New(
		ingest.DirCorpus{Dir: *docsDir},
		embedder,
		index,
		ingest.Options{ChunkSize: *chunkSize, Overlap: *overlap, Workers: *workers},
		log,
	)
	if err != nil {
		log.Error("pipeline config invalid", "error", err)
		os.Exit(1)
	}

	report, err := pipeline.Run(ctx)
	if err != nil {
		log.Error("ingestion failed", "error", err)
		os.Exit(1)
	}

	printSummary(report)
	if !report.Ok() {
		os.Exit(1)
	}
}

func printSummary(report *ingest.Report) {
	fmt.Printf("ingested %d chunks across %d sources (%d unchanged), deleted %d stale entries\n",
		report.Chunks, len(report.Sources), report.Unchanged, report.Deleted)
	for _, id := range report.Failed() {
		sr := report.Sources[id]
		if sr.Err != nil {
			fmt.Printf("  FAILED %s: %v\n", id, sr.Err)
			continue
		}
		fmt.Printf("  PARTIAL %s: %d entries not applied\n", id, len(sr.FailedIDs))
	}
}
