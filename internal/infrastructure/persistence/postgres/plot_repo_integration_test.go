//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/domain/repository"
)

// setupRepo 连接 POSTGRES_DSN 指向的数据库，未设置时跳过
func setupRepo(t *testing.T) (*PlotRepository, *TxManager) {
	t.Helper()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set, skipping integration test")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	client := &Client{db: db}
	if err := client.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewPlotRepository(client), NewTxManager(client)
}

func newPlot(projectID string, at time.Time) *entity.PlotStructure {
	return &entity.PlotStructure{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		StructureType: entity.StructureThreeAct,
		Acts:          []entity.PlotAct{{Index: 1, Title: "Setup", StartPercent: 0, EndPercent: 100, TargetLength: 1000}},
		Source:        entity.PlotSourceLLM,
		CharacterIDs:  []string{"c1"},
		TargetLength:  1000,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestPlotRepositoryRoundTrip(t *testing.T) {
	repo, tx := setupRepo(t)
	ctx := context.Background()
	projectID := uuid.NewString()
	t.Cleanup(func() { _, _ = repo.DeleteByProject(ctx, projectID) })

	base := time.Now().UTC().Truncate(time.Millisecond)
	older, newer := newPlot(projectID, base), newPlot(projectID, base.Add(time.Second))
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Save(ctx, older); err != nil {
			return err
		}
		return repo.Save(ctx, newer)
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	latest, err := repo.GetLatest(ctx, projectID)
	if err != nil || latest == nil || latest.ID != newer.ID || len(latest.Acts) != 1 || latest.CharacterIDs[0] != "c1" {
		t.Fatalf("GetLatest: %+v %v", latest, err)
	}

	newer.Climax = "updated"
	if err := repo.Save(ctx, newer); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := repo.GetByID(ctx, newer.ID)
	if got == nil || got.Climax != "updated" {
		t.Fatalf("upsert not applied: %+v", got)
	}

	page, err := repo.ListByProject(ctx, projectID, &repository.PlotFilter{Source: entity.PlotSourceLLM}, repository.NewPagination(1, 1))
	if err != nil || page.Total != 2 || len(page.Items) != 1 || page.TotalPages != 2 {
		t.Fatalf("ListByProject: %+v %v", page, err)
	}

	n, err := repo.DeleteByProject(ctx, projectID)
	if err != nil || n != 2 {
		t.Fatalf("DeleteByProject: %d %v", n, err)
	}
	if missing, _ := repo.GetByID(ctx, older.ID); missing != nil {
		t.Fatal("plot should be gone")
	}
}
