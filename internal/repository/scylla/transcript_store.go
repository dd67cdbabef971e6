package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/repository"
)

// TranscriptStore appends per-turn dialogue records to Scylla. Transcripts
// are write-heavy and append-only, which suits a wide partition per call.
type TranscriptStore struct {
	session *gocql.Session
}

// NewTranscriptStore creates a new transcript store.
func NewTranscriptStore(session *gocql.Session) *TranscriptStore {
	return &TranscriptStore{session: session}
}

// AppendTurn writes one dialogue exchange.
func (s *TranscriptStore) AppendTurn(ctx context.Context, turn repository.TranscriptTurn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if err := s.session.Query(`INSERT INTO transcript_turns (call_id, seq, role, text, phase, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		turn.CallID.String(), turn.Seq, turn.Role, turn.Text, turn.Phase, createdAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("transcript store: insert turn: %w", err)
	}
	return nil
}

// ListTurns returns the dialogue for a call in order.
func (s *TranscriptStore) ListTurns(ctx context.Context, callID uuid.UUID, limit int) ([]repository.TranscriptTurn, error) {
	if limit <= 0 {
		limit = 200
	}

	iter := s.session.Query(`SELECT seq, role, text, phase, created_at
		FROM transcript_turns WHERE call_id = ? ORDER BY seq ASC LIMIT ?`,
		callID.String(), limit,
	).WithContext(ctx).Iter()

	var (
		turns     []repository.TranscriptTurn
		seq       int
		role      string
		text      string
		phase     string
		createdAt time.Time
	)
	for iter.Scan(&seq, &role, &text, &phase, &createdAt) {
		turns = append(turns, repository.TranscriptTurn{
			CallID:    callID,
			Seq:       seq,
			Role:      role,
			Text:      text,
			Phase:     phase,
			CreatedAt: createdAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("transcript store: list turns: %w", err)
	}
	return turns, nil
}
