package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"exam-live-service/internal/app"
	"exam-live-service/internal/domain"
)

// ModeratorHandler exposes the room control surface over JSON. The moderator
// UI is an external collaborator; this is its contract with the engine.
type ModeratorHandler struct {
	manager *app.Manager
	roster  app.RosterDirectory
	log     *logrus.Entry
}

func NewModeratorHandler(manager *app.Manager, roster app.RosterDirectory, log *logrus.Logger) *ModeratorHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ModeratorHandler{
		manager: manager,
		roster:  roster,
		log:     log.WithField("component", "moderator"),
	}
}

// Mount registers the moderator routes on a mux.
func (h *ModeratorHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms", h.createRoom)
	mux.HandleFunc("GET /rooms/{code}", h.roomView)
	mux.HandleFunc("POST /rooms/{code}/start", h.action((*app.Room).Start))
	mux.HandleFunc("POST /rooms/{code}/pause", h.action((*app.Room).TogglePause))
	mux.HandleFunc("POST /rooms/{code}/finish", h.action((*app.Room).Finish))
	mux.HandleFunc("POST /rooms/{code}/cancel", h.cancelRoom)
	mux.HandleFunc("POST /rooms/{code}/force-submit", h.forceSubmit)
}

type createRoomRequest struct {
	ExamID          string         `json:"examId"`
	Mode            string         `json:"mode,omitempty"`
	Teams           []string       `json:"teams,omitempty"`
	TeamAssignments map[string]int `json:"teamAssignments,omitempty"`
	AllowList       []string       `json:"allowList,omitempty"`
}

type roomViewResponse struct {
	Code         string               `json:"code"`
	Phase        app.Phase            `json:"phase"`
	TimeLeft     int                  `json:"timeLeft"`
	Paused       bool                 `json:"paused"`
	Participants []domain.Participant `json:"participants"`
	Teams        []domain.TeamRollup  `json:"teams,omitempty"`
}

func (h *ModeratorHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExamID == "" {
		writeError(w, http.StatusBadRequest, "examId is required")
		return
	}

	mode := app.ModeIndividual
	if req.Mode == string(app.ModeTeam) {
		mode = app.ModeTeam
	}
	room, err := h.manager.CreateRoom(r.Context(), app.CreateRoomParams{
		ExamID:          req.ExamID,
		Mode:            mode,
		Teams:           req.Teams,
		TeamAssignments: req.TeamAssignments,
		AllowList:       req.AllowList,
		Roster:          h.roster,
	})
	if err != nil {
		if errors.Is(err, domain.ErrExamNotFound) {
			writeError(w, http.StatusNotFound, "exam not found")
			return
		}
		h.log.WithError(err).Error("room creation failed")
		writeError(w, http.StatusInternalServerError, "could not create room")
		return
	}
	writeJSON(w, http.StatusCreated, room.Status())
}

func (h *ModeratorHandler) roomView(w http.ResponseWriter, r *http.Request) {
	room, ok := h.manager.Room(r.PathValue("code"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, roomViewResponse{
		Code:         room.Code(),
		Phase:        room.Phase(),
		TimeLeft:     room.TimeLeft(),
		Paused:       room.Paused(),
		Participants: room.View(),
		Teams:        room.Standings(),
	})
}

// action adapts the no-argument room transitions into handlers.
func (h *ModeratorHandler) action(fn func(*app.Room) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := h.manager.Room(r.PathValue("code"))
		if !ok {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		if err := fn(room); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, room.Status())
	}
}

func (h *ModeratorHandler) cancelRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.CancelRoom(r.PathValue("code")); err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ModeratorHandler) forceSubmit(w http.ResponseWriter, r *http.Request) {
	room, ok := h.manager.Room(r.PathValue("code"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "participant id is required")
		return
	}
	if err := room.ForceSubmit(req.ID); err != nil {
		switch {
		case errors.Is(err, domain.ErrParticipantNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
