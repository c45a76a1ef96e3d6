// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers session persistence, interview state transitions, and response idempotence

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestTransportSession_SaveGetDelete(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	session := &TransportSession{
		SlotID:   "acct1-slot1",
		Provider: "evolution",
		Identity: "5511999990000",
		Blob:     []byte(`{"creds":"opaque"}`),
	}
	if err := s.SaveTransportSession(ctx, session); err != nil {
		t.Fatalf("SaveTransportSession failed: %v", err)
	}

	got, err := s.GetTransportSession(ctx, "acct1-slot1")
	if err != nil {
		t.Fatalf("GetTransportSession failed: %v", err)
	}
	if got.Provider != "evolution" || got.Identity != "5511999990000" {
		t.Errorf("unexpected session: %+v", got)
	}
	if string(got.Blob) != `{"creds":"opaque"}` {
		t.Errorf("blob round-trip failed: %s", got.Blob)
	}

	// Write-through updates are idempotent upserts
	session.Blob = []byte(`{"creds":"rotated"}`)
	if err := s.SaveTransportSession(ctx, session); err != nil {
		t.Fatalf("second SaveTransportSession failed: %v", err)
	}
	got, err = s.GetTransportSession(ctx, "acct1-slot1")
	if err != nil {
		t.Fatalf("GetTransportSession after update failed: %v", err)
	}
	if string(got.Blob) != `{"creds":"rotated"}` {
		t.Errorf("upsert did not replace blob: %s", got.Blob)
	}

	if err := s.DeleteTransportSession(ctx, "acct1-slot1"); err != nil {
		t.Fatalf("DeleteTransportSession failed: %v", err)
	}
	if _, err := s.GetTransportSession(ctx, "acct1-slot1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again is not an error
	if err := s.DeleteTransportSession(ctx, "acct1-slot1"); err != nil {
		t.Errorf("repeated delete should be a no-op: %v", err)
	}
}

func TestFindCandidateByPhone_FuzzyMatch(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	// Stored with country code
	if err := s.CreateCandidate(ctx, &Candidate{
		ID:       "c1",
		ClientID: "client1",
		Name:     "Jacqueline Souza",
		Phone:    "+55 (11) 98888-7777",
	}); err != nil {
		t.Fatalf("CreateCandidate failed: %v", err)
	}

	cases := []struct {
		name   string
		digits string
	}{
		{"exact digits", "5511988887777"},
		{"without country code", "11988887777"},
		{"with extra prefix", "005511988887777"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.FindCandidateByPhone(ctx, tc.digits)
			if err != nil {
				t.Fatalf("FindCandidateByPhone(%q) failed: %v", tc.digits, err)
			}
			if got.ID != "c1" {
				t.Errorf("expected c1, got %s", got.ID)
			}
		})
	}

	if _, err := s.FindCandidateByPhone(ctx, "5521900001111"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown number, got %v", err)
	}
	if _, err := s.FindCandidateByPhone(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty digits, got %v", err)
	}
}

func createInterviewFixture(t *testing.T, s *SQLiteStore) *Interview {
	t.Helper()
	ctx := context.Background()

	if err := s.CreateCandidate(ctx, &Candidate{
		ID: "c1", ClientID: "client1", Name: "Daniel Lima", Phone: "5511977776666",
	}); err != nil {
		t.Fatalf("CreateCandidate failed: %v", err)
	}
	if err := s.CreateJob(ctx, &Job{ID: "j1", ClientID: "client1", Title: "Professora"}); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := s.SetQuestions(ctx, "j1", []*Question{
		{JobID: "j1", Number: 1, Prompt: "Por que você tem interesse nesta vaga?", IdealAnswer: "Motivação clara."},
		{JobID: "j1", Number: 2, Prompt: "Fale sobre sua experiência.", IdealAnswer: "Experiência relevante."},
	}); err != nil {
		t.Fatalf("SetQuestions failed: %v", err)
	}

	interview := &Interview{
		ID:          "iv1",
		CandidateID: "c1",
		JobID:       "j1",
		Token:       "tok-iv1",
		Status:      InterviewStatusInvited,
	}
	if err := s.CreateInterview(ctx, interview); err != nil {
		t.Fatalf("CreateInterview failed: %v", err)
	}
	return interview
}

func TestCreateInterview_DuplicateActivePair(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	createInterviewFixture(t, s)

	err := s.CreateInterview(ctx, &Interview{
		ID: "iv2", CandidateID: "c1", JobID: "j1", Token: "tok-iv2",
	})
	if !errors.Is(err, ErrDuplicateInterview) {
		t.Errorf("expected ErrDuplicateInterview, got %v", err)
	}
}

func TestGetInterviewByToken(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	createInterviewFixture(t, s)

	got, err := s.GetInterviewByToken(ctx, "tok-iv1")
	if err != nil {
		t.Fatalf("GetInterviewByToken failed: %v", err)
	}
	if got.ID != "iv1" {
		t.Errorf("expected iv1, got %s", got.ID)
	}

	if _, err := s.GetInterviewByToken(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateInterviewState_Timestamps(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	createInterviewFixture(t, s)

	if err := s.UpdateInterviewState(ctx, "iv1", InterviewStatusInProgress, 0); err != nil {
		t.Fatalf("UpdateInterviewState failed: %v", err)
	}
	got, err := s.GetInterview(ctx, "iv1")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if got.StartedAt == nil {
		t.Error("started_at should be set on first in_progress transition")
	}
	if got.CompletedAt != nil {
		t.Error("completed_at should not be set yet")
	}
	startedAt := *got.StartedAt

	if err := s.UpdateInterviewState(ctx, "iv1", InterviewStatusCompleted, 2); err != nil {
		t.Fatalf("UpdateInterviewState to completed failed: %v", err)
	}
	got, err = s.GetInterview(ctx, "iv1")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	if !got.StartedAt.Equal(startedAt) {
		t.Error("started_at should not change once set")
	}
}

func TestUpdateInterviewState_IndexNeverDecreases(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	createInterviewFixture(t, s)

	if err := s.UpdateInterviewState(ctx, "iv1", InterviewStatusInProgress, 1); err != nil {
		t.Fatalf("UpdateInterviewState failed: %v", err)
	}

	// A stale (lower index) update is a silent no-op
	if err := s.UpdateInterviewState(ctx, "iv1", InterviewStatusInProgress, 0); err != nil {
		t.Fatalf("stale update should not error: %v", err)
	}
	got, err := s.GetInterview(ctx, "iv1")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if got.QuestionIndex != 1 {
		t.Errorf("question index regressed: got %d, want 1", got.QuestionIndex)
	}

	// Re-committing the same index is idempotent
	if err := s.UpdateInterviewState(ctx, "iv1", InterviewStatusInProgress, 1); err != nil {
		t.Fatalf("idempotent re-commit failed: %v", err)
	}

	// Unknown interview surfaces ErrNotFound
	if err := s.UpdateInterviewState(ctx, "nope", InterviewStatusInProgress, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown interview, got %v", err)
	}
}

func TestAppendResponse_AtMostOnce(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	createInterviewFixture(t, s)

	inserted, err := s.AppendResponse(ctx, &Response{
		ID:            "r1",
		InterviewID:   "iv1",
		QuestionIndex: 0,
		Transcript:    "Tenho cinco anos de experiência na área.",
		AudioPath:     "uploads/audio_5511977776666_iv1_R1.ogg",
		Score:         82,
	})
	if err != nil {
		t.Fatalf("AppendResponse failed: %v", err)
	}
	if !inserted {
		t.Fatal("first append should insert")
	}

	// Duplicate delivery for the same (interview, index) is a no-op
	inserted, err = s.AppendResponse(ctx, &Response{
		ID:            "r1-dup",
		InterviewID:   "iv1",
		QuestionIndex: 0,
		Transcript:    "duplicate webhook delivery",
		Score:         10,
	})
	if err != nil {
		t.Fatalf("duplicate AppendResponse failed: %v", err)
	}
	if inserted {
		t.Error("duplicate append should not insert")
	}

	responses, err := s.GetResponses(ctx, "iv1")
	if err != nil {
		t.Fatalf("GetResponses failed: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].Score != 82 {
		t.Errorf("original response was overwritten: %+v", responses[0])
	}
}

func TestGetResponses_OrderedByIndex(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	createInterviewFixture(t, s)

	for _, idx := range []int{1, 0} {
		if _, err := s.AppendResponse(ctx, &Response{
			ID: "r" + string(rune('a'+idx)), InterviewID: "iv1", QuestionIndex: idx,
			Transcript: "answer", Score: 50,
		}); err != nil {
			t.Fatalf("AppendResponse failed: %v", err)
		}
	}

	responses, err := s.GetResponses(ctx, "iv1")
	if err != nil {
		t.Fatalf("GetResponses failed: %v", err)
	}
	if len(responses) != 2 || responses[0].QuestionIndex != 0 || responses[1].QuestionIndex != 1 {
		t.Errorf("responses not ordered by index: %+v", responses)
	}
}

func TestGetQuestions_Ordered(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	createInterviewFixture(t, s)

	questions, err := s.GetQuestions(ctx, "j1")
	if err != nil {
		t.Fatalf("GetQuestions failed: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].Number != 1 || questions[1].Number != 2 {
		t.Errorf("questions not ordered: %+v", questions)
	}
}

func TestAppendMessageLog(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	err := s.AppendMessageLog(ctx, &MessageLogEntry{
		ID:        "m1",
		Direction: DirectionInbound,
		Channel:   "evolution",
		Peer:      "5511977776666",
		Kind:      "voice",
		Status:    "received",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("AppendMessageLog failed: %v", err)
	}
}

func TestGetActiveInterviewByCandidate(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	createInterviewFixture(t, s)

	got, err := s.GetActiveInterviewByCandidate(ctx, "c1")
	if err != nil {
		t.Fatalf("GetActiveInterviewByCandidate failed: %v", err)
	}
	if got.ID != "iv1" {
		t.Errorf("expected iv1, got %s", got.ID)
	}

	if _, err := s.GetActiveInterviewByCandidate(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
