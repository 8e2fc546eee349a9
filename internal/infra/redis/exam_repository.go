package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"exam-live-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ExamLoader fetches exam content from a backing store (e.g., document DB).
type ExamLoader interface {
	LoadExam(ctx context.Context, examID string) (domain.Exam, error)
}

// ExamRepository caches full exam documents in Redis and falls back to a
// loader on cache miss. Unlike a score-key-only cache, the whole document is
// stored because rooms hand the (redacted) content to every participant:
//
//	SET exam:{examID} {exam JSON} EX {ttl}
type ExamRepository struct {
	client *redis.Client
	loader ExamLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewExamRepository(client *redis.Client, loader ExamLoader, ttl time.Duration) *ExamRepository {
	return &ExamRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ExamRepository) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	key := r.key(examID)

	if exam, ok := r.fromCache(ctx, key); ok {
		return exam, nil
	}

	result, err, _ := r.sf.Do(examID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if exam, ok := r.fromCache(ctx, key); ok {
			return exam, nil
		}

		exam, err := r.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.Exam{}, err
		}

		if data, err := json.Marshal(exam); err == nil {
			// best-effort fill; a failed write just means the next read reloads
			_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

func (r *ExamRepository) fromCache(ctx context.Context, key string) (domain.Exam, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil || len(data) == 0 {
		return domain.Exam{}, false
	}
	var exam domain.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		return domain.Exam{}, false
	}
	return exam, true
}

func (r *ExamRepository) key(examID string) string {
	return "exam:" + examID
}

func (r *ExamRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
