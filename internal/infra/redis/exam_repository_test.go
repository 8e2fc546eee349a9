package redis

import (
	"context"
	"testing"
	"time"

	"exam-live-service/internal/domain"
	"exam-live-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestExamRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		ExamLoader: memory.NewStaticExamLoader(map[string]domain.Exam{
			"exam-1": sampleExam(),
		}),
	}
	repo := NewExamRepository(client, loader, time.Minute)

	exam, err := repo.GetExam(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("exam:exam-1") {
		t.Fatalf("expected exam cached in redis")
	}

	// Second call should hit cache, loader not incremented, document intact.
	again, err := repo.GetExam(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("get exam from cache: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if again.Title != exam.Title || len(again.Questions) != len(exam.Questions) {
		t.Fatalf("cached exam differs from loaded exam")
	}
	if got := again.Questions[0].CorrectAnswers; len(got) != 1 || got[0] != "4" {
		t.Fatalf("answer key lost in cache round-trip: %v", got)
	}
}

func TestExamRepositoryUnknownExam(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := memory.NewStaticExamLoader(nil)
	repo := NewExamRepository(newClient(mr), loader, time.Minute)

	if _, err := repo.GetExam(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown exam")
	}
}

type countingLoader struct {
	memory.ExamLoader
	calls int
}

func (l *countingLoader) LoadExam(ctx context.Context, examID string) (domain.Exam, error) {
	l.calls++
	return l.ExamLoader.LoadExam(ctx, examID)
}

func sampleExam() domain.Exam {
	return domain.Exam{
		ID:              "exam-1",
		Title:           "Arithmetic",
		DurationMinutes: 10,
		Questions: []domain.Question{
			{
				ID:             "q1",
				Type:           domain.QuestionSingle,
				Content:        "What is 2 + 2?",
				Options:        []string{"3", "4"},
				CorrectAnswers: []string{"4"},
				Points:         1,
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
