package app

import (
	"context"
	"os"
	"testing"

	"opsdesk/internal/config"
	"opsdesk/internal/logging"
	"opsdesk/internal/remote"
)

func TestOpenWithoutPortalFails(t *testing.T) {
	rt, err := Open(context.Background(), Options{Workspace: t.TempDir(), Logger: logging.Discard()})
	if err == nil {
		rt.Close()
		t.Fatal("expected error when no portal is known")
	}
}

func TestOpenSeedsConfigFromWorkspaceFile(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault("kho-hcm")), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	rt, err := Open(ctx, Options{Workspace: workspace, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if rt.PortalID != "kho-hcm" || rt.Config.Portal.ID != "kho-hcm" {
		t.Fatalf("unexpected portal %q / %q", rt.PortalID, rt.Config.Portal.ID)
	}
	if _, ok := rt.Engine.Committer.(remote.Nop); !ok {
		t.Fatalf("expected no-op committer without remote config, got %T", rt.Engine.Committer)
	}
	if rt.Engine.Conversations == nil {
		t.Fatal("conversation store not wired")
	}
	stored, err := rt.Engine.Repo.GetPortalConfig(ctx, "kho-hcm")
	if err != nil {
		t.Fatalf("config not stored: %v", err)
	}
	if stored.DefaultPriority != rt.Config.DefaultPriority {
		t.Fatalf("stored default priority %q, want %q", stored.DefaultPriority, rt.Config.DefaultPriority)
	}
	rt.Close()

	if err := os.Remove(config.Path(workspace)); err != nil {
		t.Fatal(err)
	}
	rt, err = Open(ctx, Options{Workspace: workspace, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("reopen from stored portal: %v", err)
	}
	defer rt.Close()
	if rt.PortalID != "kho-hcm" {
		t.Fatalf("single stored portal not picked, got %q", rt.PortalID)
	}
}

func TestOverridePortalUsesDefaults(t *testing.T) {
	rt, err := Open(context.Background(), Options{Workspace: t.TempDir(), Portal: "p-override", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.PortalID != "p-override" || len(rt.Config.Statuses) == 0 {
		t.Fatalf("unexpected runtime portal=%q statuses=%d", rt.PortalID, len(rt.Config.Statuses))
	}
}
