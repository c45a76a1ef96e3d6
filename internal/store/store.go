// ABOUTME: Store interface and data types for interviewd persistence
// ABOUTME: Defines sessions, candidates, jobs, interviews, responses and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateInterview is returned when an active interview already exists
// for the same (candidate, job) pair
var ErrDuplicateInterview = errors.New("interview already exists")

// TransportSession is one persisted credential blob per connection slot.
// The blob is provider-opaque; losing it forces re-pairing, so writes are
// write-through from the supervisor.
type TransportSession struct {
	SlotID    string
	Provider  string
	Identity  string // phone/user id once paired, empty before
	Blob      []byte
	UpdatedAt time.Time
}

// Candidate represents a person invited to interview
type Candidate struct {
	ID        string
	ClientID  string
	Name      string
	Phone     string
	CreatedAt time.Time
}

// Job represents an open position with its interview script
type Job struct {
	ID       string
	ClientID string
	Title    string
	Company  string
}

// Question is one entry of a job's ordered interview script.
// Immutable once an interview referencing the job has started.
type Question struct {
	JobID       string
	Number      int // 1-based position
	Prompt      string
	IdealAnswer string
}

// Interview statuses
const (
	InterviewStatusInvited    = "invited"
	InterviewStatusAccepted   = "accepted"
	InterviewStatusDeclined   = "declined"
	InterviewStatusInProgress = "in_progress"
	InterviewStatusCompleted  = "completed"
	InterviewStatusCancelled  = "cancelled"
)

// Interview represents one (candidate, job) interview session. The
// question index is 0-based and monotonically increasing; it is committed
// before any outbound send so a restart resumes from the last durable state.
type Interview struct {
	ID            string
	CandidateID   string
	JobID         string
	Token         string
	Status        string
	QuestionIndex int
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// Response is one answered question. Append-only; the unique
// (interview_id, question_index) pair is the at-most-once guard.
type Response struct {
	ID            string
	InterviewID   string
	QuestionIndex int
	Transcript    string
	AudioPath     string
	Score         int
	CreatedAt     time.Time
}

// Message log directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MessageLogEntry is an append-only audit record of a transport event.
// Diagnostics only; never read back for control decisions.
type MessageLogEntry struct {
	ID        string
	Direction string
	Channel   string // provider name
	Peer      string
	Kind      string // text, voice, control, audio, interactive
	Status    string
	CreatedAt time.Time
}

// Store defines the interface for interviewd persistence
type Store interface {
	// Transport sessions
	SaveTransportSession(ctx context.Context, session *TransportSession) error
	GetTransportSession(ctx context.Context, slotID string) (*TransportSession, error)
	DeleteTransportSession(ctx context.Context, slotID string) error

	// Candidates
	CreateCandidate(ctx context.Context, candidate *Candidate) error
	GetCandidate(ctx context.Context, id string) (*Candidate, error)
	FindCandidateByPhone(ctx context.Context, digits string) (*Candidate, error)

	// Jobs and questions
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	SetQuestions(ctx context.Context, jobID string, questions []*Question) error
	GetQuestions(ctx context.Context, jobID string) ([]*Question, error)

	// Interviews
	CreateInterview(ctx context.Context, interview *Interview) error
	GetInterview(ctx context.Context, id string) (*Interview, error)
	GetInterviewByToken(ctx context.Context, token string) (*Interview, error)
	GetActiveInterviewByCandidate(ctx context.Context, candidateID string) (*Interview, error)
	UpdateInterviewState(ctx context.Context, id, status string, questionIndex int) error

	// Responses
	AppendResponse(ctx context.Context, response *Response) (inserted bool, err error)
	GetResponses(ctx context.Context, interviewID string) ([]*Response, error)

	// Message log
	AppendMessageLog(ctx context.Context, entry *MessageLogEntry) error

	Close() error
}
