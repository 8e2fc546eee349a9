package app

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"exam-live-service/internal/domain"
	"exam-live-service/internal/protocol"
)

// Phase is the room lifecycle state. Finished is terminal.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseLobby    Phase = "lobby"
	PhaseLive     Phase = "live"
	PhaseFinished Phase = "finished"
)

// Mode selects individual or team play.
type Mode string

const (
	ModeIndividual Mode = "individual"
	ModeTeam       Mode = "team"
)

// HistorySink receives the session record once at FINISH. Persistence format
// is the collaborator's concern; the record shape is owned here.
type HistorySink interface {
	Save(ctx context.Context, record domain.SessionRecord) error
}

// RoomStatus is the directory-facing summary of a room.
type RoomStatus struct {
	Code      string `json:"code"`
	ExamID    string `json:"examId"`
	ExamTitle string `json:"examTitle"`
	Mode      Mode   `json:"mode"`
	Phase     Phase  `json:"phase"`
	Players   int    `json:"players"`
}

// RoomConfig holds the session tunables.
type RoomConfig struct {
	TickInterval          time.Duration
	SyncEveryTicks        int
	BatchSize             int
	BatchYield            time.Duration
	GracePeriod           time.Duration
	MaterializeInterval   time.Duration
	AdmitOnEmptyAllowList bool
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		TickInterval:          time.Second,
		SyncEveryTicks:        10,
		BatchSize:             50,
		BatchYield:            10 * time.Millisecond,
		GracePeriod:           5 * time.Second,
		MaterializeInterval:   time.Second,
		AdmitOnEmptyAllowList: true,
	}
}

// RoomOptions wires a room's collaborators.
type RoomOptions struct {
	Mode           Mode
	Teams          []string
	History        HistorySink
	OnStatusChange func(RoomStatus)
	OnTeardown     func(code string)
	Config         RoomConfig
	Logger         *logrus.Logger
	Clock          func() time.Time
}

// Room owns one live exam session: lifecycle state machine, timer, registry,
// admission and fan-out. All state transitions and registry mutations are
// linearized under the room mutex; broadcasts go through the fan-out queue so
// the control path never waits on a peer.
type Room struct {
	code  string
	exam  domain.Exam
	mode  Mode
	teams []string
	cfg   RoomConfig
	log   *logrus.Entry
	now   func() time.Time

	registry *Registry
	fanout   *Fanout
	history  HistorySink

	onStatusChange func(RoomStatus)
	onTeardown     func(code string)

	mu        sync.Mutex
	phase     Phase
	paused    bool
	timeLeft  int
	tickCount int
	startedAt time.Time
	admission *Admission
	seeds     map[string]int64
	rnd       *rand.Rand
	stopTimer chan struct{}

	view participantView

	stopMaterializer chan struct{}
	teardownOnce     sync.Once
}

// participantView is the atomically swapped snapshot the moderator display
// reads. Stored slices are never mutated after the swap, so reads are torn-
// free without taking the room mutex.
type participantView struct {
	v atomic.Value
}

func (p *participantView) store(s []domain.Participant) {
	if s == nil {
		s = []domain.Participant{}
	}
	p.v.Store(s)
}

func (p *participantView) load() []domain.Participant {
	s, _ := p.v.Load().([]domain.Participant)
	return s
}

func NewRoom(code string, exam domain.Exam, opts RoomOptions) *Room {
	if opts.Config.TickInterval == 0 {
		opts.Config = DefaultRoomConfig()
	}
	if opts.Mode == "" {
		opts.Mode = ModeIndividual
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := opts.Logger.WithField("component", "room").WithField("room", code)

	r := &Room{
		code:             code,
		exam:             exam,
		mode:             opts.Mode,
		teams:            opts.Teams,
		cfg:              opts.Config,
		log:              log,
		now:              opts.Clock,
		registry:         NewRegistry(),
		fanout:           NewFanout(opts.Config.BatchSize, opts.Config.BatchYield, log),
		history:          opts.History,
		onStatusChange:   opts.OnStatusChange,
		onTeardown:       opts.OnTeardown,
		phase:            PhaseSetup,
		seeds:            make(map[string]int64),
		rnd:              rand.New(rand.NewSource(opts.Clock().UnixNano())),
		stopMaterializer: make(chan struct{}),
	}
	r.view.store(nil)
	return r
}

// OpenLobby freezes the allow-list snapshot and starts accepting joins.
// Roster edits made after this instant are never observed by this room.
func (r *Room) OpenLobby(allowList []string, roster RosterDirectory, assignments map[string]int) error {
	r.mu.Lock()
	if r.phase != PhaseSetup {
		r.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	r.phase = PhaseLobby
	r.admission = NewAdmission(allowList, r.cfg.AdmitOnEmptyAllowList, roster, r.teams, assignments)
	r.mu.Unlock()

	go r.materialize()
	r.log.WithField("allowed", len(allowList)).Info("lobby open")
	r.notifyStatus()
	return nil
}

// Join admits a participant on a freshly opened channel. Admission is
// idempotent: a repeat join for the same identifier replaces the channel and
// keeps score and progress. The success or failure reply is sent on the
// channel before returning.
func (r *Room) Join(ch Channel, req protocol.Login) error {
	r.mu.Lock()
	if r.phase == PhaseSetup || r.phase == PhaseFinished {
		r.mu.Unlock()
		r.rejectJoin(ch, "room is not accepting participants")
		return domain.ErrInvalidTransition
	}

	profile, team, err := r.admission.Admit(req.ID)
	if err != nil {
		r.mu.Unlock()
		r.log.WithField("participant", req.ID).Info("join rejected: not on the allow-list")
		r.rejectJoin(ch, "you are not on the roster for this room")
		return err
	}

	seed, ok := r.seeds[req.ID]
	if !ok {
		seed = r.rnd.Int63()
		r.seeds[req.ID] = seed
	}

	patch := Patch{Name: &profile.Name, Avatar: &profile.Avatar, Team: &team}
	if _, known := r.registry.Get(req.ID); !known {
		online := domain.StatusOnline
		patch.Status = &online
	}
	participant, err := r.registry.Upsert(req.ID, patch)
	if err != nil {
		r.mu.Unlock()
		r.rejectJoin(ch, "room already finished")
		return err
	}

	state := r.sessionStateLocked()
	r.mu.Unlock()

	r.fanout.Attach(req.ID, ch)

	reply, err := protocol.NewEnvelope(protocol.TypeLoginSuccess, protocol.LoginSuccess{
		Exam:        r.exam.Redacted(),
		Participant: participant,
		Session:     state,
		Config: protocol.SessionConfig{
			ShuffleQuestions: r.exam.Settings.ShuffleQuestions,
			ShuffleOptions:   r.exam.Settings.ShuffleOptions,
			ShuffleSeed:      seed,
		},
	})
	if err != nil {
		return err
	}
	if err := ch.Send(reply); err != nil {
		r.fanout.Detach(req.ID)
		return err
	}

	r.log.WithField("participant", req.ID).Info("participant joined")
	r.notifyStatus()
	return nil
}

// rejectJoin surfaces the reason, then closes the channel after a short delay
// so the message can flush.
func (r *Room) rejectJoin(ch Channel, reason string) {
	env, err := protocol.NewEnvelope(protocol.TypeLoginFailed, protocol.LoginFailed{Reason: reason})
	if err == nil {
		_ = ch.Send(env)
	}
	time.AfterFunc(500*time.Millisecond, func() { _ = ch.Close() })
}

// Leave detaches a participant's channel. The registry row keeps its last
// known state so a rejoin resumes it.
func (r *Room) Leave(id string) {
	r.fanout.Detach(id)
}

// Start begins the Live phase: resets the timer to the exam duration and
// broadcasts START. At least one participant must have joined.
func (r *Room) Start() error {
	r.mu.Lock()
	if r.phase != PhaseLobby {
		r.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	if r.registry.Len() == 0 {
		r.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	r.phase = PhaseLive
	r.paused = false
	r.timeLeft = r.exam.DurationMinutes * 60
	r.tickCount = 0
	r.startedAt = r.now()
	r.stopTimer = make(chan struct{})
	stop := r.stopTimer
	r.mu.Unlock()

	r.fanout.Broadcast(protocol.Envelope{Type: protocol.TypeStart})
	r.log.WithField("duration_s", r.exam.DurationMinutes*60).Info("session started")
	r.notifyStatus()

	go r.runTimer(stop)
	return nil
}

func (r *Room) runTimer(stop chan struct{}) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick advances the session clock by one second. Every SyncEveryTicks ticks a
// SYNC broadcast goes out; reaching zero forces the Finished transition.
func (r *Room) tick() {
	r.mu.Lock()
	if r.phase != PhaseLive || r.paused {
		r.mu.Unlock()
		return
	}
	r.timeLeft--
	r.tickCount++
	if r.timeLeft <= 0 {
		r.finishLocked()
		r.mu.Unlock()
		r.notifyStatus()
		return
	}
	timeLeft := r.timeLeft
	emitSync := r.tickCount%r.cfg.SyncEveryTicks == 0
	r.mu.Unlock()

	if emitSync {
		r.fanout.Broadcast(protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{
			TimeLeft: &timeLeft,
			Status:   "live",
		}))
	}
}

// TogglePause gates the countdown. Both directions broadcast a SYNC so
// clients can freeze or resume their local timers.
func (r *Room) TogglePause() error {
	r.mu.Lock()
	if r.phase != PhaseLive {
		r.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	r.paused = !r.paused
	status := "live"
	if r.paused {
		status = "paused"
	}
	r.mu.Unlock()

	r.fanout.Broadcast(protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{Status: status}))
	r.log.WithField("status", status).Info("pause toggled")
	return nil
}

// ForceSubmit is the moderator cutoff for one participant: finished at 100%
// without a SUBMIT message. The target learns about it from the broadcast.
func (r *Room) ForceSubmit(id string) error {
	r.mu.Lock()
	if r.phase != PhaseLive {
		r.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	err := r.registry.ForceFinish(id)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	// Reflect the cutoff in the moderator view right away rather than waiting
	// for the next materializer pass.
	r.view.store(r.registry.Snapshot())
	r.fanout.Broadcast(protocol.MustEnvelope(protocol.TypeForceSubmit, protocol.ForceSubmit{TargetID: id}))
	r.log.WithField("participant", id).Info("force submitted")
	return nil
}

// Finish ends the session manually.
func (r *Room) Finish() error {
	r.mu.Lock()
	if r.phase != PhaseLive {
		r.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	r.finishLocked()
	r.mu.Unlock()
	r.notifyStatus()
	return nil
}

// finishLocked performs the Live -> Finished transition: stops the timer,
// freezes the registry, broadcasts FINISH, emits the session record and
// schedules channel teardown after the grace window.
func (r *Room) finishLocked() {
	r.phase = PhaseFinished
	if r.stopTimer != nil {
		close(r.stopTimer)
		r.stopTimer = nil
	}
	r.registry.Freeze()
	r.fanout.Broadcast(protocol.Envelope{Type: protocol.TypeFinish})

	record := r.buildRecordLocked()
	r.view.store(r.registry.Snapshot())

	if r.history != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.history.Save(ctx, record); err != nil {
				r.log.WithError(err).Error("failed to persist session record")
			}
		}()
	}
	r.log.WithField("participants", len(record.Participants)).Info("session finished")

	time.AfterFunc(r.cfg.GracePeriod, r.teardown)
}

func (r *Room) buildRecordLocked() domain.SessionRecord {
	snapshot := r.registry.Snapshot()
	entries := make([]domain.SessionEntry, 0, len(snapshot))
	for _, p := range snapshot {
		entries = append(entries, domain.SessionEntry{
			ID:         p.ID,
			Name:       p.Name,
			Score:      p.Score,
			Status:     p.Status,
			Violations: p.Violations,
		})
	}
	elapsed := r.exam.DurationMinutes*60 - r.timeLeft
	if elapsed < 0 {
		elapsed = 0
	}
	return domain.SessionRecord{
		ID:             uuid.NewString(),
		RoomCode:       r.code,
		ExamID:         r.exam.ID,
		ExamTitle:      r.exam.Title,
		StartedAt:      r.startedAt,
		ElapsedSeconds: elapsed,
		Participants:   entries,
	}
}

// Cancel destroys the room without a record or FINISH broadcast.
func (r *Room) Cancel() {
	r.mu.Lock()
	if r.phase == PhaseFinished {
		r.mu.Unlock()
		return
	}
	r.phase = PhaseFinished
	if r.stopTimer != nil {
		close(r.stopTimer)
		r.stopTimer = nil
	}
	r.registry.Freeze()
	r.mu.Unlock()

	r.log.Info("room cancelled")
	r.teardown()
}

func (r *Room) teardown() {
	r.teardownOnce.Do(func() {
		close(r.stopMaterializer)
		r.fanout.CloseAll()
		if r.onTeardown != nil {
			r.onTeardown(r.code)
		}
	})
}

// HandleInbound applies one participant message to the registry. Malformed or
// unknown messages are logged and dropped; nothing a single participant sends
// can crash the controller.
func (r *Room) HandleInbound(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeUpdateProgress:
		var msg protocol.UpdateProgress
		if err := env.DecodePayload(&msg); err != nil {
			r.log.WithError(err).Warn("ignoring malformed progress message")
			return
		}
		r.applyProgress(msg)
	case protocol.TypeSubmit:
		var msg protocol.Submit
		if err := env.DecodePayload(&msg); err != nil {
			r.log.WithError(err).Warn("ignoring malformed submit message")
			return
		}
		r.applySubmit(msg)
	case protocol.TypeRequestSync:
		var msg protocol.RequestSync
		if err := env.DecodePayload(&msg); err != nil {
			r.log.WithError(err).Warn("ignoring malformed resync request")
			return
		}
		r.mu.Lock()
		state := r.sessionStateLocked()
		r.mu.Unlock()
		_ = r.fanout.Send(msg.ID, protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{
			TimeLeft: &state.TimeLeft,
			Status:   state.Status,
		}))
	default:
		r.log.WithField("type", env.Type).Warn("ignoring unexpected message type")
	}
}

func (r *Room) applyProgress(msg protocol.UpdateProgress) {
	score := msg.Score
	if len(msg.Answers) > 0 {
		// The engine's own grading wins over the client-claimed score.
		score = domain.Score(r.exam, msg.Answers)
	}
	progress := clampPercent(msg.Progress)
	status := domain.StatusInProgress
	if _, err := r.registry.Upsert(msg.ID, Patch{
		Score:      &score,
		Progress:   &progress,
		Violations: &msg.Violations,
		Status:     &status,
	}); err != nil {
		r.log.WithError(err).WithField("participant", msg.ID).Debug("progress dropped")
	}
}

func (r *Room) applySubmit(msg protocol.Submit) {
	score := msg.Score
	if len(msg.Answers) > 0 {
		score = domain.Score(r.exam, msg.Answers)
	}
	progress := 100
	status := domain.StatusFinished
	if _, err := r.registry.Upsert(msg.ID, Patch{
		Score:      &score,
		Progress:   &progress,
		Violations: &msg.Violations,
		Status:     &status,
	}); err != nil {
		r.log.WithError(err).WithField("participant", msg.ID).Debug("submit dropped")
		return
	}
	r.log.WithField("participant", msg.ID).WithField("score", score).Info("submission received")
}

// materialize copies the registry into the moderator-facing view at a fixed
// cadence, decoupling render cost from inbound message rate.
func (r *Room) materialize() {
	ticker := time.NewTicker(r.cfg.MaterializeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopMaterializer:
			return
		case <-ticker.C:
			r.view.store(r.registry.Snapshot())
		}
	}
}

// View returns the latest materialized snapshot. It may lag registry writes
// by up to one materializer interval.
func (r *Room) View() []domain.Participant {
	return r.view.load()
}

// Standings returns team rollups in team mode, nil otherwise.
func (r *Room) Standings() []domain.TeamRollup {
	if r.mode != ModeTeam {
		return nil
	}
	return TeamStandings(r.teams, r.registry.Snapshot())
}

func (r *Room) sessionStateLocked() protocol.SessionState {
	status := string(r.phase)
	if r.phase == PhaseLive && r.paused {
		status = "paused"
	}
	return protocol.SessionState{Status: status, TimeLeft: r.timeLeft, Paused: r.paused}
}

func (r *Room) notifyStatus() {
	if r.onStatusChange == nil {
		return
	}
	r.onStatusChange(r.Status())
}

// Status summarizes the room for the directory.
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	phase := r.phase
	r.mu.Unlock()
	return RoomStatus{
		Code:      r.code,
		ExamID:    r.exam.ID,
		ExamTitle: r.exam.Title,
		Mode:      r.mode,
		Phase:     phase,
		Players:   r.registry.Len(),
	}
}

func (r *Room) Code() string { return r.code }

func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Room) TimeLeft() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeLeft
}

func (r *Room) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
