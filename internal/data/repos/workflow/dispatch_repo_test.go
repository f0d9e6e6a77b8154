package workflow_test

import (
	"context"
	"errors"
	"testing"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/data/repos/testutil"
	"github.com/stepflow/stepflow/internal/engine/errs"
)

func TestDispatchRepository_AcquireReleaseGroupLock(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := reposwf.NewDispatchRepository(tx, testutil.Logger(t))

	group := "acquire-release"
	if err := repo.EnsureGroupRow(context.Background(), group); err != nil {
		t.Fatalf("ensure group row: %v", err)
	}

	tickID, err := repo.AcquireGroupLock(context.Background(), group)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if tickID == 0 {
		t.Fatal("expected a non-zero tick id")
	}

	if _, err := repo.AcquireGroupLock(context.Background(), group); !errors.Is(err, errs.ErrAlreadyDispatching) {
		t.Fatalf("expected ErrAlreadyDispatching on a second acquire, got %v", err)
	}

	if err := repo.ReleaseGroupLock(context.Background(), group, tickID, 9); err != nil {
		t.Fatalf("release: %v", err)
	}

	tickID2, err := repo.AcquireGroupLock(context.Background(), group)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if tickID2 == tickID {
		t.Fatal("expected a fresh tick id on reacquire")
	}
}

func TestDispatchRepository_ReleaseGroupLock_ReentrantSafe(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := reposwf.NewDispatchRepository(tx, testutil.Logger(t))

	if err := repo.ReleaseGroupLock(context.Background(), "never-locked", 0, 0); err != nil {
		t.Fatalf("expected release of an unlocked/nonexistent group to be a no-op, got %v", err)
	}
}

func TestDispatchRepository_OldestGroup_NullsFirstThenLexical(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := reposwf.NewDispatchRepository(tx, testutil.Logger(t))

	for _, g := range []string{"zzz", "aaa"} {
		if err := repo.EnsureGroupRow(context.Background(), g); err != nil {
			t.Fatalf("ensure group row %q: %v", g, err)
		}
	}

	group, ok, err := repo.OldestGroup(context.Background())
	if err != nil {
		t.Fatalf("oldest group: %v", err)
	}
	if !ok {
		t.Fatal("expected a group to be selected")
	}
	if group != "aaa" {
		t.Fatalf("expected lexical tie-break to pick %q, got %q", "aaa", group)
	}
}
