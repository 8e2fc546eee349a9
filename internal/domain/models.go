package domain

import "time"

// QuestionType enumerates the supported answer formats.
type QuestionType string

const (
	QuestionSingle    QuestionType = "single"
	QuestionMultiple  QuestionType = "multiple"
	QuestionTrueFalse QuestionType = "true_false"
	QuestionShort     QuestionType = "short"
)

// Question models a single exam question, including its answer key.
type Question struct {
	ID             string       `json:"id"`
	Type           QuestionType `json:"type"`
	Content        string       `json:"content"`
	Image          string       `json:"image,omitempty"`
	Options        []string     `json:"options,omitempty"`
	CorrectAnswers []string     `json:"correctAnswers,omitempty"`
	Explanation    string       `json:"explanation,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	Points         int          `json:"points"` // defaults to 1 if zero
}

// ExamSettings controls per-client question and option ordering.
type ExamSettings struct {
	ShuffleQuestions bool `json:"shuffleQuestions"`
	ShuffleOptions   bool `json:"shuffleOptions"`
}

// Exam is the immutable content snapshot a room runs against.
type Exam struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Subject         string       `json:"subject,omitempty"`
	DurationMinutes int          `json:"durationMinutes"`
	Questions       []Question   `json:"questions"`
	Settings        ExamSettings `json:"settings"`
}

// Redacted returns a copy safe to hand to participants: question content and
// options only, answer keys and explanations stripped.
func (e Exam) Redacted() Exam {
	out := e
	out.Questions = make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		q.CorrectAnswers = nil
		q.Explanation = ""
		out.Questions[i] = q
	}
	return out
}

// ParticipantStatus tracks where a participant is in the exam.
type ParticipantStatus string

const (
	StatusOnline     ParticipantStatus = "online"
	StatusInProgress ParticipantStatus = "in-progress"
	StatusFinished   ParticipantStatus = "finished"
)

// Participant is one admitted student inside a room. A participant row is
// never deleted while the room is live; disconnects keep the last known state
// so a rejoin resumes the same row.
type Participant struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Avatar     string            `json:"avatar,omitempty"`
	Score      int               `json:"score"`
	Progress   int               `json:"progress"` // 0-100
	Violations int               `json:"violations,omitempty"`
	Status     ParticipantStatus `json:"status"`
	Team       string            `json:"team,omitempty"`
	JoinedAt   time.Time         `json:"joinedAt"`
}

// Profile is the roster-directory view of a student, resolved at admission.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// AnswerSet maps question IDs to the values a participant selected or typed.
type AnswerSet map[string][]string

// TeamRollup is derived from the registry on demand, never stored.
type TeamRollup struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Members  int    `json:"members"`
	Finished int    `json:"finished"`
}

// SessionEntry is one participant's terminal line in a session record.
type SessionEntry struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Score      int               `json:"score"`
	Status     ParticipantStatus `json:"status"`
	Violations int               `json:"violations,omitempty"`
}

// SessionRecord is the artifact a finished room hands to the persistence
// collaborator. Participants keep registry order.
type SessionRecord struct {
	ID             string         `json:"id"`
	RoomCode       string         `json:"roomCode"`
	ExamID         string         `json:"examId"`
	ExamTitle      string         `json:"examTitle"`
	StartedAt      time.Time      `json:"startedAt"`
	ElapsedSeconds int            `json:"elapsedSeconds"`
	Participants   []SessionEntry `json:"participants"`
}
