package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"plot-rag-api/internal/config"
	"plot-rag-api/internal/wire"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 连接 PostgreSQL 与 Milvus
	deps, cleanup, err := wire.InitializeBootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize bootstrap: %v", err)
	}
	defer cleanup()

	// 3. 建表
	if err := deps.PgClient.AutoMigrate(ctx); err != nil {
		log.Fatalf("failed to migrate postgres: %v", err)
	}
	fmt.Println("PostgreSQL schema is up to date.")

	// 4. 建向量集合
	dim := cfg.EffectiveDimension()
	if err := deps.MilvusClient.EnsureCollection(ctx, dim); err != nil {
		log.Fatalf("failed to ensure milvus collection: %v", err)
	}
	fmt.Printf("Milvus collection %q ready (dim=%d).\n", cfg.Vector.Milvus.Collection, dim)

	fmt.Println("Bootstrap completed successfully.")
}
