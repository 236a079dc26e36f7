package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"workchain/internal/domain"
)

// Writer appends proof events inside the caller's transaction so that an
// event only exists when the mutation it records committed.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// envelope is the canonical hashed form of an event. Field order is fixed;
// changing it would invalidate every stored hash.
type envelope struct {
	SubmissionID string          `json:"submissionId"`
	Timestamp    string          `json:"timestamp"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload"`
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// ComputeHash returns the hex SHA-256 of the canonical event envelope.
func ComputeHash(submissionID, ts, eventType string, payload []byte) string {
	data, _ := json.Marshal(envelope{
		SubmissionID: submissionID,
		Timestamp:    ts,
		EventType:    eventType,
		Payload:      json.RawMessage(payload),
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Append records an event for the submission within tx. The payload is
// marshaled once and the stored bytes are exactly what the hash covers.
func (w *Writer) Append(ctx context.Context, tx *sql.Tx, submissionID, eventType string, payload any) (domain.ProofEvent, error) {
	payloadJSON := []byte("{}")
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return domain.ProofEvent{}, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = data
	}
	ts := w.now().UTC().Format(time.RFC3339)
	hash := ComputeHash(submissionID, ts, eventType, payloadJSON)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events(submission_id, ts, type, payload_json, hash) VALUES (?,?,?,?,?)`,
		submissionID, ts, eventType, string(payloadJSON), hash)
	if err != nil {
		return domain.ProofEvent{}, fmt.Errorf("append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ProofEvent{}, err
	}
	return domain.ProofEvent{
		ID:           id,
		SubmissionID: submissionID,
		TS:           ts,
		Type:         eventType,
		PayloadJSON:  string(payloadJSON),
		Hash:         hash,
	}, nil
}

// Verify recomputes the event hash from its stored columns.
func Verify(e domain.ProofEvent) bool {
	return ComputeHash(e.SubmissionID, e.TS, e.Type, []byte(e.PayloadJSON)) == e.Hash
}
