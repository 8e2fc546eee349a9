package redis

import (
	"context"
	"strconv"
	"time"

	"exam-live-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// RoomDirectory advertises live rooms in Redis so a lobby browser (or a
// second service instance) can list them without talking to the owning
// process. Each room is a hash under room:{code} with a TTL acting as a
// liveness marker; Update refreshes it, teardown removes it.
type RoomDirectory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomDirectory(client *redis.Client, ttl time.Duration) *RoomDirectory {
	return &RoomDirectory{client: client, ttl: ttl}
}

func (d *RoomDirectory) Register(ctx context.Context, status app.RoomStatus) error {
	return d.write(ctx, status)
}

func (d *RoomDirectory) Update(ctx context.Context, status app.RoomStatus) error {
	return d.write(ctx, status)
}

func (d *RoomDirectory) Remove(ctx context.Context, code string) error {
	return d.client.Del(ctx, d.key(code)).Err()
}

func (d *RoomDirectory) write(ctx context.Context, status app.RoomStatus) error {
	key := d.key(status.Code)
	pipe := d.client.Pipeline()
	pipe.HSet(ctx, key,
		"examId", status.ExamID,
		"examTitle", status.ExamTitle,
		"mode", string(status.Mode),
		"phase", string(status.Phase),
		"players", status.Players,
	)
	if d.ttl > 0 {
		pipe.Expire(ctx, key, d.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// List scans the advertised rooms. Intended for lobby listings, not hot paths.
func (d *RoomDirectory) List(ctx context.Context) ([]app.RoomStatus, error) {
	var out []app.RoomStatus
	iter := d.client.Scan(ctx, 0, "room:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := d.client.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		players, _ := strconv.Atoi(fields["players"])
		out = append(out, app.RoomStatus{
			Code:      key[len("room:"):],
			ExamID:    fields["examId"],
			ExamTitle: fields["examTitle"],
			Mode:      app.Mode(fields["mode"]),
			Phase:     app.Phase(fields["phase"]),
			Players:   players,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *RoomDirectory) key(code string) string {
	return "room:" + code
}
