package app

import (
	"context"
	"regexp"
	"testing"

	"exam-live-service/internal/domain"
	"exam-live-service/internal/protocol"
)

type staticExams map[string]domain.Exam

func (s staticExams) GetExam(_ context.Context, examID string) (domain.Exam, error) {
	exam, ok := s[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	return exam, nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(staticExams{"exam-1": roomExam()}, nil, nil, testRoomConfig(), nil)
	t.Cleanup(m.Shutdown)
	return m
}

func TestCreateRoomAllocatesSixDigitCode(t *testing.T) {
	m := newTestManager(t)

	room, err := m.CreateRoom(context.Background(), CreateRoomParams{ExamID: "exam-1"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(room.Code()) {
		t.Fatalf("expected 6-digit code, got %q", room.Code())
	}
	if room.Phase() != PhaseLobby {
		t.Fatalf("new room must be in lobby, got %s", room.Phase())
	}
	if got, ok := m.Room(room.Code()); !ok || got != room {
		t.Fatalf("room not retrievable by code")
	}
}

func TestCreateRoomUnknownExam(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.CreateRoom(context.Background(), CreateRoomParams{ExamID: "nope"}); err == nil {
		t.Fatalf("expected error for unknown exam")
	}
}

func TestCancelRemovesRoom(t *testing.T) {
	m := newTestManager(t)
	room, err := m.CreateRoom(context.Background(), CreateRoomParams{ExamID: "exam-1"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	if err := m.CancelRoom(room.Code()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := m.Room(room.Code()); ok {
		t.Fatalf("cancelled room still registered")
	}
	if err := m.CancelRoom(room.Code()); err != domain.ErrRoomNotFound {
		t.Fatalf("expected room-not-found, got %v", err)
	}
}

func TestEachRoomIsIsolated(t *testing.T) {
	m := newTestManager(t)

	first, err := m.CreateRoom(context.Background(), CreateRoomParams{ExamID: "exam-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := m.CreateRoom(context.Background(), CreateRoomParams{ExamID: "exam-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Code() == second.Code() {
		t.Fatalf("room codes must differ")
	}

	if err := first.Join(&recordingChannel{}, protocol.Login{ID: "s1"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if second.registry.Len() != 0 {
		t.Fatalf("participant leaked across rooms")
	}
}
