// ABOUTME: Conversation state machine driving interviews over chat
// ABOUTME: State reloads per event and commits before every outbound send

package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/talentvox/interviewd/internal/ai"
	"github.com/talentvox/interviewd/internal/dedupe"
	"github.com/talentvox/interviewd/internal/link"
	"github.com/talentvox/interviewd/internal/media"
	"github.com/talentvox/interviewd/internal/outbound"
	"github.com/talentvox/interviewd/internal/router"
	"github.com/talentvox/interviewd/internal/store"
	"github.com/talentvox/interviewd/internal/transport"
)

// continueAck precedes a re-sent question after a social reply
const continueAck = "Obrigado! Vamos continuar com a entrevista."

// Messenger is the outbound gateway slice the engine needs
type Messenger interface {
	Text(ctx context.Context, slotID, to, text string) error
	Question(ctx context.Context, slotID, to, text string) error
	Choice(ctx context.Context, slotID, to string, prompt *transport.Interactive) error
}

// MediaProcessor handles voice-note answers
type MediaProcessor interface {
	Process(ctx context.Context, slotID string, ref *transport.VoiceRef, phone, interviewID string, questionNumber int) (*media.Result, error)
}

// Scorer evaluates a transcript against the question's ideal answer
type Scorer interface {
	ScoreAnswer(ctx context.Context, question, idealAnswer, transcript string) (*ai.Score, error)
}

// Templates are the operator-authored candidate-facing messages
type Templates struct {
	Invitation string
	Greeting   string
	Decline    string
	Closing    string
	Redirect   string
	Cancelled  string
}

// Config holds the engine's rendering inputs
type Config struct {
	CompanyName string
	Templates   Templates
}

// Engine is the conversation state machine. It keeps no per-interview
// state in memory: every inbound event reloads the interview from the
// store and commits the new state before any outbound send, so a crash
// between decide and send never produces an inconsistent index.
type Engine struct {
	store   store.Store
	gateway Messenger
	media   MediaProcessor
	scorer  Scorer
	signer  *link.Signer
	seen    *dedupe.Cache
	cfg     Config
	logger  *slog.Logger
}

// NewEngine creates the conversation engine
func NewEngine(st store.Store, gateway Messenger, mediaProc MediaProcessor, scorer Scorer, signer *link.Signer, seen *dedupe.Cache, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   st,
		gateway: gateway,
		media:   mediaProc,
		scorer:  scorer,
		signer:  signer,
		seen:    seen,
		cfg:     cfg,
		logger:  logger.With("component", "interview"),
	}
}

// Invite creates an interview for a candidate and sends the invitation
// choice prompt. At most one active interview may exist per candidate and
// job; a duplicate returns store.ErrDuplicateInterview.
func (e *Engine) Invite(ctx context.Context, slotID, candidateID, jobID string) (*store.Interview, error) {
	candidate, err := e.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("loading candidate: %w", err)
	}
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	questions, err := e.store.GetQuestions(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}

	iv := &store.Interview{
		ID:          uuid.NewString(),
		CandidateID: candidateID,
		JobID:       jobID,
		Status:      store.InterviewStatusInvited,
	}
	if e.signer != nil {
		token, err := e.signer.Generate(iv.ID)
		if err != nil {
			return nil, fmt.Errorf("signing interview link: %w", err)
		}
		iv.Token = token
	}

	if err := e.store.CreateInterview(ctx, iv); err != nil {
		return nil, err
	}

	body := outbound.Render(e.cfg.Templates.Invitation, e.templateVars(candidate, job, len(questions), iv.Token))
	if err := e.gateway.Choice(ctx, slotID, peerAddress(candidate), invitePrompt(body)); err != nil {
		return nil, fmt.Errorf("sending invitation: %w", err)
	}
	e.logOutbound(ctx, "", candidate.Phone, "interactive")

	e.logger.Info("invitation sent", "interview", iv.ID, "candidate", candidateID, "job", jobID)
	return iv, nil
}

// Handle processes one routed inbound message for a candidate
func (e *Engine) Handle(ctx context.Context, slotID string, candidate *store.Candidate, msg *router.Message) error {
	e.logInbound(ctx, msg, candidate.Phone)

	iv, err := e.store.GetActiveInterviewByCandidate(ctx, candidate.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.sendTemplate(ctx, slotID, candidate, nil, e.cfg.Templates.Redirect)
		}
		return fmt.Errorf("loading interview: %w", err)
	}

	switch iv.Status {
	case store.InterviewStatusInvited:
		return e.handleInvited(ctx, slotID, candidate, iv, msg)
	case store.InterviewStatusAccepted:
		// Acceptance was committed but the start never landed; any reply
		// picks the interview back up from the beginning
		return e.startInterview(ctx, slotID, candidate, iv)
	case store.InterviewStatusInProgress:
		return e.handleInProgress(ctx, slotID, candidate, iv, msg)
	case store.InterviewStatusCompleted:
		return e.sendTemplate(ctx, slotID, candidate, iv, e.cfg.Templates.Closing)
	default:
		return e.sendTemplate(ctx, slotID, candidate, iv, e.cfg.Templates.Redirect)
	}
}

func (e *Engine) handleInvited(ctx context.Context, slotID string, candidate *store.Candidate, iv *store.Interview, msg *router.Message) error {
	reply := msg.Text
	if msg.Button != "" {
		reply = msg.Button
	}

	switch classifyReply(reply) {
	case replyAffirmative:
		if err := e.store.UpdateInterviewState(ctx, iv.ID, store.InterviewStatusAccepted, iv.QuestionIndex); err != nil {
			return fmt.Errorf("accepting interview: %w", err)
		}
		return e.startInterview(ctx, slotID, candidate, iv)

	case replyNegative:
		if err := e.store.UpdateInterviewState(ctx, iv.ID, store.InterviewStatusDeclined, iv.QuestionIndex); err != nil {
			return fmt.Errorf("declining interview: %w", err)
		}
		e.logger.Info("interview declined", "interview", iv.ID)
		return e.sendTemplate(ctx, slotID, candidate, iv, e.cfg.Templates.Decline)

	case replyCancel:
		return e.cancel(ctx, slotID, candidate, iv)

	default:
		// Not a yes or a no; repeat the invitation choice
		job, questions, err := e.loadScript(ctx, iv.JobID)
		if err != nil {
			return err
		}
		body := outbound.Render(e.cfg.Templates.Invitation, e.templateVars(candidate, job, len(questions), iv.Token))
		if err := e.gateway.Choice(ctx, slotID, peerAddress(candidate), invitePrompt(body)); err != nil {
			return fmt.Errorf("re-sending invitation: %w", err)
		}
		e.logOutbound(ctx, msg.Provider, candidate.Phone, "interactive")
		return nil
	}
}

// startInterview commits in_progress(0), then sends the greeting and the
// first question
func (e *Engine) startInterview(ctx context.Context, slotID string, candidate *store.Candidate, iv *store.Interview) error {
	job, questions, err := e.loadScript(ctx, iv.JobID)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		if err := e.store.UpdateInterviewState(ctx, iv.ID, store.InterviewStatusCompleted, 0); err != nil {
			return fmt.Errorf("completing empty interview: %w", err)
		}
		return e.sendTemplate(ctx, slotID, candidate, iv, e.cfg.Templates.Closing)
	}

	if err := e.store.UpdateInterviewState(ctx, iv.ID, store.InterviewStatusInProgress, 0); err != nil {
		return fmt.Errorf("starting interview: %w", err)
	}
	e.logger.Info("interview started", "interview", iv.ID, "questions", len(questions))

	greeting := outbound.Render(e.cfg.Templates.Greeting, e.templateVars(candidate, job, len(questions), iv.Token))
	if greeting != "" {
		if err := e.gateway.Text(ctx, slotID, peerAddress(candidate), greeting); err != nil {
			return fmt.Errorf("sending greeting: %w", err)
		}
		e.logOutbound(ctx, "", candidate.Phone, "text")
	}
	return e.sendQuestion(ctx, slotID, candidate, questions[0])
}

func (e *Engine) handleInProgress(ctx context.Context, slotID string, candidate *store.Candidate, iv *store.Interview, msg *router.Message) error {
	_, questions, err := e.loadScript(ctx, iv.JobID)
	if err != nil {
		return err
	}
	index := iv.QuestionIndex
	if index >= len(questions) {
		// Index already past the script; close out defensively
		if err := e.store.UpdateInterviewState(ctx, iv.ID, store.InterviewStatusCompleted, index); err != nil {
			return fmt.Errorf("completing interview: %w", err)
		}
		return e.sendTemplate(ctx, slotID, candidate, iv, e.cfg.Templates.Closing)
	}
	question := questions[index]

	if msg.Kind != router.KindVoice {
		switch classifyReply(msg.Text) {
		case replyCancel:
			return e.cancel(ctx, slotID, candidate, iv)
		case replyOffTopic:
			return e.repeatQuestion(ctx, slotID, candidate, question, msg.Provider)
		}
	}

	// Fast duplicate guard ahead of the durable UNIQUE constraint
	answerKey := dedupe.AnswerKey(iv.ID, index)
	if e.seen != nil && e.seen.Seen(answerKey) {
		e.logger.Debug("duplicate answer event ignored", "interview", iv.ID, "index", index)
		return nil
	}

	transcript := msg.Text
	audioPath := ""
	if msg.Kind == router.KindVoice {
		result, err := e.media.Process(ctx, slotID, msg.Voice, candidate.Phone, iv.ID, question.Number)
		if err != nil {
			if e.seen != nil {
				e.seen.Forget(answerKey)
			}
			return fmt.Errorf("processing voice answer: %w", err)
		}
		transcript = result.Transcript
		audioPath = result.Path

		// A transcribed social reply does not advance the index
		if result.Transcribed && classifyReply(transcript) == replyOffTopic {
			if e.seen != nil {
				e.seen.Forget(answerKey)
			}
			return e.repeatQuestion(ctx, slotID, candidate, question, msg.Provider)
		}
	}

	response := &store.Response{
		ID:            uuid.NewString(),
		InterviewID:   iv.ID,
		QuestionIndex: index,
		Transcript:    transcript,
		AudioPath:     audioPath,
		Score:         e.scoreAnswer(ctx, question, transcript),
	}

	inserted, err := e.store.AppendResponse(ctx, response)
	if err != nil {
		if e.seen != nil {
			e.seen.Forget(answerKey)
		}
		return fmt.Errorf("recording answer: %w", err)
	}
	if !inserted {
		e.logger.Debug("answer already recorded", "interview", iv.ID, "index", index)
		return nil
	}

	next := index + 1
	if next < len(questions) {
		if err := e.store.UpdateInterviewState(ctx, iv.ID, store.InterviewStatusInProgress, next); err != nil {
			return fmt.Errorf("advancing interview: %w", err)
		}
		return e.sendQuestion(ctx, slotID, candidate, questions[next])
	}

	if err := e.store.UpdateInterviewState(ctx, iv.ID, store.InterviewStatusCompleted, next); err != nil {
		return fmt.Errorf("completing interview: %w", err)
	}
	e.logger.Info("interview completed", "interview", iv.ID, "answers", next)
	return e.sendTemplate(ctx, slotID, candidate, iv, e.cfg.Templates.Closing)
}

// repeatQuestion acknowledges a social reply and re-sends the current
// question without advancing
func (e *Engine) repeatQuestion(ctx context.Context, slotID string, candidate *store.Candidate, question *store.Question, provider string) error {
	if err := e.gateway.Text(ctx, slotID, peerAddress(candidate), continueAck); err != nil {
		return fmt.Errorf("sending acknowledgment: %w", err)
	}
	e.logOutbound(ctx, provider, candidate.Phone, "text")
	return e.sendQuestion(ctx, slotID, candidate, question)
}

// scoreAnswer never fails: scoring errors fall back to the neutral default
func (e *Engine) scoreAnswer(ctx context.Context, question *store.Question, transcript string) int {
	if transcript == media.NoTranscript || strings.TrimSpace(transcript) == "" {
		return ai.DefaultScore
	}
	score, err := e.scorer.ScoreAnswer(ctx, question.Prompt, question.IdealAnswer, transcript)
	if err != nil {
		e.logger.Warn("scoring failed, using default", "error", err)
		return ai.DefaultScore
	}
	return score.Overall
}

func (e *Engine) cancel(ctx context.Context, slotID string, candidate *store.Candidate, iv *store.Interview) error {
	if err := e.store.UpdateInterviewState(ctx, iv.ID, store.InterviewStatusCancelled, iv.QuestionIndex); err != nil {
		return fmt.Errorf("cancelling interview: %w", err)
	}
	e.logger.Info("interview cancelled", "interview", iv.ID)
	return e.sendTemplate(ctx, slotID, candidate, iv, e.cfg.Templates.Cancelled)
}

func (e *Engine) sendQuestion(ctx context.Context, slotID string, candidate *store.Candidate, question *store.Question) error {
	if err := e.gateway.Question(ctx, slotID, peerAddress(candidate), question.Prompt); err != nil {
		return fmt.Errorf("sending question %d: %w", question.Number, err)
	}
	e.logOutbound(ctx, "", candidate.Phone, "audio")
	return nil
}

// sendTemplate renders and sends a candidate-facing template; an empty
// template sends nothing
func (e *Engine) sendTemplate(ctx context.Context, slotID string, candidate *store.Candidate, iv *store.Interview, template string) error {
	if template == "" {
		return nil
	}
	vars := map[string]string{
		"candidate_name": candidate.Name,
		"company_name":   e.cfg.CompanyName,
	}
	if iv != nil && e.signer != nil && iv.Token != "" {
		vars["interview_link"] = e.signer.URL(iv.Token)
	}
	if err := e.gateway.Text(ctx, slotID, peerAddress(candidate), outbound.Render(template, vars)); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	e.logOutbound(ctx, "", candidate.Phone, "text")
	return nil
}

func (e *Engine) loadScript(ctx context.Context, jobID string) (*store.Job, []*store.Question, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading job: %w", err)
	}
	questions, err := e.store.GetQuestions(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading questions: %w", err)
	}
	return job, questions, nil
}

func (e *Engine) templateVars(candidate *store.Candidate, job *store.Job, questionCount int, token string) map[string]string {
	vars := map[string]string{
		"candidate_name": candidate.Name,
		"company_name":   e.cfg.CompanyName,
		"job_title":      job.Title,
		"question_count": strconv.Itoa(questionCount),
	}
	if job.Company != "" {
		vars["company_name"] = job.Company
	}
	if e.signer != nil && token != "" {
		vars["interview_link"] = e.signer.URL(token)
	}
	return vars
}

func (e *Engine) logInbound(ctx context.Context, msg *router.Message, peer string) {
	err := e.store.AppendMessageLog(ctx, &store.MessageLogEntry{
		ID:        uuid.NewString(),
		Direction: store.DirectionInbound,
		Channel:   msg.Provider,
		Peer:      peer,
		Kind:      msg.Kind,
		Status:    "received",
	})
	if err != nil {
		e.logger.Warn("message log append failed", "error", err)
	}
}

func (e *Engine) logOutbound(ctx context.Context, provider, peer, kind string) {
	err := e.store.AppendMessageLog(ctx, &store.MessageLogEntry{
		ID:        uuid.NewString(),
		Direction: store.DirectionOutbound,
		Channel:   provider,
		Peer:      peer,
		Kind:      kind,
		Status:    "sent",
	})
	if err != nil {
		e.logger.Warn("message log append failed", "error", err)
	}
}

func invitePrompt(body string) *transport.Interactive {
	return &transport.Interactive{
		Body: body,
		Options: []transport.Option{
			{ID: "1", Label: "Sim, quero participar"},
			{ID: "2", Label: "Não, obrigado"},
		},
	}
}

// peerAddress is the transport address for a candidate
func peerAddress(candidate *store.Candidate) string {
	var b strings.Builder
	for _, r := range candidate.Phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
