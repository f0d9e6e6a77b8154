package workflow_test

import (
	"context"
	"testing"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/data/repos/testutil"
)

func TestCooldownRepository_DefaultsFalse(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := reposwf.NewCooldownRepository(tx)

	on, err := repo.IsCoolingDown(context.Background())
	if err != nil {
		t.Fatalf("is cooling down: %v", err)
	}
	if on {
		t.Fatal("expected cooldown to default to false with no row present")
	}
}

func TestCooldownRepository_SetAndRead(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := reposwf.NewCooldownRepository(tx)

	if err := repo.SetCoolingDown(context.Background(), true); err != nil {
		t.Fatalf("set: %v", err)
	}
	on, err := repo.IsCoolingDown(context.Background())
	if err != nil {
		t.Fatalf("is cooling down: %v", err)
	}
	if !on {
		t.Fatal("expected cooldown to read back true")
	}

	if err := repo.SetCoolingDown(context.Background(), false); err != nil {
		t.Fatalf("set: %v", err)
	}
	on, err = repo.IsCoolingDown(context.Background())
	if err != nil {
		t.Fatalf("is cooling down: %v", err)
	}
	if on {
		t.Fatal("expected cooldown to read back false after toggling off")
	}
}
