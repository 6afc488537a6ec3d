package wire

import (
	"context"
	"strings"
	"testing"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/config"
	"plot-rag-api/internal/infrastructure/messaging"
)

func TestOptionalBackendsDegradeToNilInterfaces(t *testing.T) {
	if ProvideRateLimiter(nil) != nil {
		t.Fatal("rate limiter without redis must be a nil interface")
	}
	if ProvideIndexPublisher(nil) != nil || ProvidePurgePublisher(nil) != nil {
		t.Fatal("publishers without redis must be nil interfaces")
	}
	if ProvidePlotRepository(nil) != nil || ProvideTransactor(nil) != nil {
		t.Fatal("postgres ports without a client must be nil interfaces")
	}
}

func TestProvideAnalysisCacheFallsBackToMemory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Analysis.Backend = "redis"
	if _, ok := ProvideAnalysisCache(context.Background(), cfg, nil).(*analysis.MemoryCache); !ok {
		t.Fatal("redis backend without a client should use the memory cache")
	}
}

func TestProvideVectorIndex(t *testing.T) {
	cfg := &config.Config{}
	cfg.Retrieval.Backend = "memory"
	cfg.Embedding.Dimension = 8
	if _, ok := ProvideVectorIndex(cfg, nil).(*retrieval.MemoryIndex); !ok {
		t.Fatal("memory backend should build the in-process index")
	}

	cfg.Retrieval.Backend = "milvus"
	if ProvideVectorIndex(cfg, nil) != nil {
		t.Fatal("unreachable milvus should disable the index")
	}
}

func TestProvideConsumerRequiresRedis(t *testing.T) {
	if _, err := ProvideConsumer(&config.Config{}, nil); err == nil {
		t.Fatal("expected error without redis")
	}
}

func TestConsumerGroup(t *testing.T) {
	if got := consumerGroup(""); got != messaging.ConsumerGroupIndexer {
		t.Fatalf("empty prefix: %s", got)
	}
	if got := consumerGroup("plot_rag"); got != "plot_rag:"+messaging.ConsumerGroupIndexer {
		t.Fatalf("prefixed: %s", got)
	}
	if name := hostnameConsumerName(); !strings.Contains(name, "-") {
		t.Fatalf("consumer name %q", name)
	}
}
