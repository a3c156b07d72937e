package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/migrate"
)

func newStore(t *testing.T) Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Store{DB: conn, Now: func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }}
}

func TestAppendAndList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	msg := domain.Message{ID: "m1", GroupID: "g1", Sender: "khach", Text: "xin chào"}
	if err := s.AppendChat(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendChat(ctx, msg); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if err := s.AppendSystemMessage(ctx, "g1", "lead1 received this message"); err != nil {
		t.Fatalf("system: %v", err)
	}
	if err := s.AppendSystemMessage(ctx, "g2", "elsewhere"); err != nil {
		t.Fatal(err)
	}
	got, err := s.List(ctx, "g1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	kinds := []string{}
	for _, m := range got {
		kinds = append(kinds, m.Kind+":"+m.Text)
	}
	if diff := cmp.Diff([]string{"chat:xin chào", "system:lead1 received this message"}, kinds); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	after, err := s.List(ctx, "g1", got[0].ID, 10)
	if err != nil || len(after) != 1 || after[0].Kind != KindSystem {
		t.Fatalf("cursor listing: %+v %v", after, err)
	}
}

func TestAnnotateMessage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.AppendChat(ctx, domain.Message{ID: "m1", GroupID: "g1", Text: "hàng về"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AnnotateMessage(ctx, "m1", "t1"); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	m, err := s.GetByMessageID(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.TaskID == nil || *m.TaskID != "t1" || m.Text != "hàng về" {
		t.Fatalf("unexpected message %+v", m)
	}

	// Unknown messages get a placeholder row that carries the link.
	if err := s.AnnotateMessage(ctx, "m-unknown", "t2"); err != nil {
		t.Fatalf("annotate unknown: %v", err)
	}
	m, err = s.GetByMessageID(ctx, "m-unknown")
	if err != nil || m.TaskID == nil || *m.TaskID != "t2" || m.CreatedAt != "2024-03-01T09:00:00Z" {
		t.Fatalf("unexpected placeholder %+v %v", m, err)
	}
	if err := s.AnnotateMessage(ctx, "", "t1"); err == nil {
		t.Fatalf("expected error for empty message id")
	}
}
