package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sashabaranov/go-openai"

	"github.com/hecongqing/shukongdashi/pkg/fault"
	"github.com/hecongqing/shukongdashi/pkg/fault/algorithms"
	"github.com/hecongqing/shukongdashi/pkg/fault/caseindex"
	"github.com/hecongqing/shukongdashi/pkg/fault/metrics"
	"github.com/hecongqing/shukongdashi/pkg/fault/processors"
	"github.com/hecongqing/shukongdashi/pkg/fault/storage"
	"github.com/hecongqing/shukongdashi/services"
	"github.com/hecongqing/shukongdashi/tools"
)

func main() {
	envFile := flag.String("env", ".env", "Path to environment file")
	enableHTTP := flag.Bool("http", false, "Serve MCP over streamable HTTP instead of stdio")
	httpAddr := flag.String("http-addr", ":8080", "Address for the HTTP server to listen on")
	endpointPath := flag.String("http-path", "/mcp", "Endpoint path for the MCP handler")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: Error loading env file %s: %v\n", *envFile, err)
	}

	ctx := context.Background()
	analyzer, graphStore := buildAnalyzer(ctx)
	defer func() {
		if graphStore != nil {
			graphStore.Close()
		}
	}()

	mcpServer := server.NewMCPServer(
		"shukongdashi",
		"1.0.0",
		server.WithLogging(),
	)

	tools.RegisterDiagnosisTools(mcpServer, analyzer)

	// Keep system gauges fresh while serving.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.UpdateSystemMetrics()
		}
	}()

	if *enableHTTP || os.Getenv("ENABLE_HTTP") == "true" {
		path := *endpointPath
		if path == "" || path[0] != '/' {
			path = "/" + path
		}

		// Stateless keeps clients that do not manage sessions working.
		httpServer := server.NewStreamableHTTPServer(
			mcpServer,
			server.WithEndpointPath(path),
			server.WithStateLess(true),
		)

		errCh := make(chan error, 1)
		go func() {
			log.Printf("Starting HTTP server on %s (endpoint: %s)", *httpAddr, path)
			if err := httpServer.Start(*httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("Received signal %v, shutting down...", sig)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Error during HTTP server shutdown: %v", err)
			}
			log.Println("HTTP server shutdown complete")
		case err := <-errCh:
			log.Fatalf("HTTP server error: %v", err)
		}
	} else {
		if err := server.ServeStdio(mcpServer); err != nil {
			panic(fmt.Sprintf("Server error: %v", err))
		}
	}
}

// buildAnalyzer wires the pipeline from environment configuration,
// degrading to local substitutes when external services are not
// configured.
func buildAnalyzer(ctx context.Context) (*fault.Analyzer, fault.GraphStore) {
	normalizer := processors.NewTextNormalizer()

	var tagger processors.EntityTagger
	if url := os.Getenv("TAGGER_SERVICE_URL"); url != "" {
		tagger = processors.NewHTTPTagger(url, 10*time.Second)
	} else {
		log.Println("TAGGER_SERVICE_URL not set, extraction uses the dictionary fallback only")
	}
	extractor := processors.NewElementExtractor(tagger, processors.NewDictionary())

	var graphStore fault.GraphStore
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		store, err := storage.NewNeo4jGraphStore(uri, os.Getenv("NEO4J_USERNAME"), os.Getenv("NEO4J_PASSWORD"))
		if err != nil {
			log.Fatalf("Failed to create Neo4j store: %v", err)
		}
		if err := store.Connect(ctx); err != nil {
			log.Printf("Warning: Neo4j not reachable yet: %v", err)
		}
		graphStore = store
	} else {
		log.Println("NEO4J_URI not set, using an empty in-memory graph store")
		graphStore = storage.NewMemoryGraphStore()
	}

	var index fault.CaseIndex
	if os.Getenv("CASE_INDEX") == "qdrant" {
		collection := os.Getenv("QDRANT_COLLECTION")
		if collection == "" {
			collection = "fault_cases"
		}
		qidx, err := caseindex.NewQdrantIndex(ctx,
			services.DefaultQdrantClient(),
			services.DefaultOpenAIClient(),
			collection,
			openai.LargeEmbedding3,
		)
		if err != nil {
			log.Fatalf("Failed to create Qdrant case index: %v", err)
		}
		index = qidx
	} else {
		casePath := os.Getenv("CASE_DB_PATH")
		if casePath == "" {
			casePath = "data/cases.json"
		}
		tfidf, err := caseindex.NewIndex(ctx, normalizer, caseindex.WithStore(storage.NewJSONCaseStore(casePath)))
		if err != nil {
			log.Fatalf("Failed to build case index: %v", err)
		}
		index = tfidf
	}

	reasoner := algorithms.NewGraphReasoner(graphStore, nil)
	analyzer := fault.NewAnalyzer(normalizer, extractor, reasoner, index, graphStore, fault.DefaultAnalyzerConfig())
	return analyzer, graphStore
}
