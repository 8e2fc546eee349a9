package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"exam-live-service/internal/domain"
)

// ExamRepository loads exam content (from cache/backing store).
type ExamRepository interface {
	GetExam(ctx context.Context, examID string) (domain.Exam, error)
}

// RoomDirectory advertises active rooms so a connection broker can route
// join codes. Best-effort: directory failures are logged, never fatal.
type RoomDirectory interface {
	Register(ctx context.Context, status RoomStatus) error
	Update(ctx context.Context, status RoomStatus) error
	Remove(ctx context.Context, code string) error
}

// CreateRoomParams is the moderator's confirmed setup. The allow-list is
// snapshotted at creation; later roster edits do not reach the room.
type CreateRoomParams struct {
	ExamID          string
	Mode            Mode
	Teams           []string
	TeamAssignments map[string]int
	AllowList       []string
	Roster          RosterDirectory
}

// Manager owns all active rooms in this process, keyed by 6-digit code.
type Manager struct {
	exams     ExamRepository
	directory RoomDirectory
	history   HistorySink
	cfg       RoomConfig
	log       *logrus.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
	rnd   *rand.Rand
}

func NewManager(exams ExamRepository, directory RoomDirectory, history HistorySink, cfg RoomConfig, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.TickInterval == 0 {
		cfg = DefaultRoomConfig()
	}
	return &Manager{
		exams:     exams,
		directory: directory,
		history:   history,
		cfg:       cfg,
		log:       log,
		rooms:     make(map[string]*Room),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRoom loads the exam, allocates a room code and opens the lobby with
// the frozen allow-list. The room is advertised in the directory until
// teardown.
func (m *Manager) CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error) {
	exam, err := m.exams.GetExam(ctx, params.ExamID)
	if err != nil {
		return nil, fmt.Errorf("load exam %s: %w", params.ExamID, err)
	}

	m.mu.Lock()
	code := m.allocateCodeLocked()
	room := NewRoom(code, exam, RoomOptions{
		Mode:           params.Mode,
		Teams:          params.Teams,
		History:        m.history,
		Config:         m.cfg,
		Logger:         m.log,
		OnStatusChange: m.publishStatus,
		OnTeardown:     m.dropRoom,
	})
	m.rooms[code] = room
	m.mu.Unlock()

	if err := room.OpenLobby(params.AllowList, params.Roster, params.TeamAssignments); err != nil {
		m.dropRoom(code)
		return nil, err
	}

	if m.directory != nil {
		if err := m.directory.Register(ctx, room.Status()); err != nil {
			m.log.WithError(err).Warn("failed to advertise room")
		}
	}
	return room, nil
}

// allocateCodeLocked picks a random 6-digit code not already in use locally.
// Codes are short-lived, so "unlikely collision" is an acceptable guarantee.
func (m *Manager) allocateCodeLocked() string {
	for {
		code := fmt.Sprintf("%06d", 100000+m.rnd.Intn(900000))
		if _, taken := m.rooms[code]; !taken {
			return code
		}
	}
}

// Room looks up an active room by code.
func (m *Manager) Room(code string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[code]
	return room, ok
}

// CancelRoom tears a room down without a session record.
func (m *Manager) CancelRoom(code string) error {
	room, ok := m.Room(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Cancel()
	return nil
}

// Shutdown cancels every active room.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()
	for _, room := range rooms {
		room.Cancel()
	}
}

func (m *Manager) publishStatus(status RoomStatus) {
	if m.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.directory.Update(ctx, status); err != nil {
		m.log.WithError(err).Debug("directory update failed")
	}
}

func (m *Manager) dropRoom(code string) {
	m.mu.Lock()
	delete(m.rooms, code)
	m.mu.Unlock()

	if m.directory != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.directory.Remove(ctx, code); err != nil {
			m.log.WithError(err).Debug("directory removal failed")
		}
	}
}
