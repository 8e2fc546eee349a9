package memory

import (
	"context"
	"testing"

	"exam-live-service/internal/app"
)

func TestRoomDirectoryLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := NewRoomDirectory()

	status := app.RoomStatus{Code: "123456", ExamTitle: "Midterm", Phase: app.PhaseLobby}
	if err := dir.Register(ctx, status); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := dir.List(); len(got) != 1 || got[0].Code != "123456" {
		t.Fatalf("expected room advertised, got %+v", got)
	}

	status.Phase = app.PhaseLive
	status.Players = 12
	if err := dir.Update(ctx, status); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := dir.List(); got[0].Phase != app.PhaseLive || got[0].Players != 12 {
		t.Fatalf("update not applied: %+v", got[0])
	}

	if err := dir.Remove(ctx, "123456"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := dir.List(); len(got) != 0 {
		t.Fatalf("expected directory emptied, got %+v", got)
	}

	// Updating an unknown room is a no-op, not a resurrection.
	if err := dir.Update(ctx, status); err != nil {
		t.Fatalf("update after remove: %v", err)
	}
	if got := dir.List(); len(got) != 0 {
		t.Fatalf("update must not re-register a removed room")
	}
}
