package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"exam-live-service/internal/domain"
	"github.com/uptrace/bun"
)

// sessionRow is the bun model for the exam_sessions table. Participant lines
// are stored as a JSONB array in registry order.
type sessionRow struct {
	bun.BaseModel `bun:"table:exam_sessions"`

	ID             string    `bun:"id,pk"`
	RoomCode       string    `bun:"room_code,notnull"`
	ExamID         string    `bun:"exam_id,notnull"`
	ExamTitle      string    `bun:"exam_title"`
	StartedAt      time.Time `bun:"started_at,notnull"`
	ElapsedSeconds int       `bun:"elapsed_seconds,notnull"`
	Participants   []byte    `bun:"participants,type:jsonb"`
}

// HistoryStore persists finished-session records in Postgres via bun.
type HistoryStore struct {
	db *bun.DB
}

func NewHistoryStore(db *bun.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Save(ctx context.Context, record domain.SessionRecord) error {
	participants, err := json.Marshal(record.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	row := &sessionRow{
		ID:             record.ID,
		RoomCode:       record.RoomCode,
		ExamID:         record.ExamID,
		ExamTitle:      record.ExamTitle,
		StartedAt:      record.StartedAt,
		ElapsedSeconds: record.ElapsedSeconds,
		Participants:   participants,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}
	return nil
}

// ListByExam returns the stored records for one exam, newest first.
func (s *HistoryStore) ListByExam(ctx context.Context, examID string) ([]domain.SessionRecord, error) {
	var rows []sessionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("exam_id = ?", examID).
		Order("started_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}

	records := make([]domain.SessionRecord, 0, len(rows))
	for _, row := range rows {
		record := domain.SessionRecord{
			ID:             row.ID,
			RoomCode:       row.RoomCode,
			ExamID:         row.ExamID,
			ExamTitle:      row.ExamTitle,
			StartedAt:      row.StartedAt,
			ElapsedSeconds: row.ElapsedSeconds,
		}
		if len(row.Participants) > 0 {
			if err := json.Unmarshal(row.Participants, &record.Participants); err != nil {
				return nil, fmt.Errorf("unmarshal participants: %w", err)
			}
		}
		records = append(records, record)
	}
	return records, nil
}
