package memory

import (
	"context"
	"sync"

	"exam-live-service/internal/app"
)

// RoomDirectory is an in-process implementation of app.RoomDirectory for
// single-host deployments and tests.
type RoomDirectory struct {
	mu    sync.RWMutex
	rooms map[string]app.RoomStatus
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: make(map[string]app.RoomStatus)}
}

func (d *RoomDirectory) Register(_ context.Context, status app.RoomStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[status.Code] = status
	return nil
}

func (d *RoomDirectory) Update(_ context.Context, status app.RoomStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[status.Code]; !ok {
		return nil
	}
	d.rooms[status.Code] = status
	return nil
}

func (d *RoomDirectory) Remove(_ context.Context, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, code)
	return nil
}

// List returns the advertised rooms, for broker-facing listings.
func (d *RoomDirectory) List() []app.RoomStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]app.RoomStatus, 0, len(d.rooms))
	for _, status := range d.rooms {
		out = append(out, status)
	}
	return out
}
