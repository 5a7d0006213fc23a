package action

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hshk99/autopack/internal/domain/model"
)

// Status is the lifecycle state of an external action.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusApproved     Status = "APPROVED"
	StatusExecuting    Status = "EXECUTING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCancelled    Status = "CANCELLED"
	StatusHashMismatch Status = "HASH_MISMATCH"
)

// IsTerminal reports whether the status accepts no further transitions
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusHashMismatch:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a status transition is valid. FAILED may
// retry back to EXECUTING; any non-terminal state may be CANCELLED.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	validTransitions := map[Status][]Status{
		StatusPending:   {StatusApproved, StatusExecuting, StatusHashMismatch},
		StatusApproved:  {StatusExecuting, StatusHashMismatch},
		StatusExecuting: {StatusCompleted, StatusFailed},
		StatusFailed:    {StatusExecuting},
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HashPayload computes the SHA-256 of a canonicalized payload. Map keys
// are serialized in sorted order so logically equal payloads always hash
// identically regardless of insertion order.
func HashPayload(payload map[string]interface{}) (string, error) {
	canonical, err := canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize produces a deterministic JSON encoding of a payload
func canonicalize(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			valJSON, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, keyJSON...)
			out = append(out, ':')
			out = append(out, valJSON...)
		}
		return append(out, '}'), nil

	case []interface{}:
		out := []byte{'['}
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			itemJSON, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, itemJSON...)
		}
		return append(out, ']'), nil

	default:
		return json.Marshal(v)
	}
}

// ExternalAction is an append-only ledger row for a side-effecting
// external call. The idempotency key is the primary key: re-registering
// with the same key returns the existing row, which is what makes
// "register, maybe crash, restart, register again" safe.
type ExternalAction struct {
	IdempotencyKey  string
	PayloadHash     string
	Provider        string
	Action          string
	RunID           string
	PhaseNumber     int
	ApprovalID      string
	Status          Status
	RetryCount      int
	MaxRetries      int
	RequestSummary  string
	ResponseSummary string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewExternalAction registers a new PENDING action for a payload
func NewExternalAction(idempotencyKey, provider, actionName, runID string, phaseNumber int, payload map[string]interface{}, maxRetries int) (*ExternalAction, error) {
	if idempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	hash, err := HashPayload(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &ExternalAction{
		IdempotencyKey: idempotencyKey,
		PayloadHash:    hash,
		Provider:       provider,
		Action:         actionName,
		RunID:          runID,
		PhaseNumber:    phaseNumber,
		Status:         StatusPending,
		MaxRetries:     maxRetries,
		RequestSummary: summarizePayload(payload),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Approve binds an approval to the action. The approval is only valid
// for the payload hash presented at approval time; a mismatch marks the
// action HASH_MISMATCH and returns a typed error.
func (a *ExternalAction) Approve(approvalID, presentedHash string) error {
	if presentedHash != a.PayloadHash {
		a.Status = StatusHashMismatch
		a.UpdatedAt = time.Now().UTC()
		return &model.HashMismatchError{
			IdempotencyKey: a.IdempotencyKey,
			StoredHash:     a.PayloadHash,
			PresentedHash:  presentedHash,
		}
	}
	if !a.Status.CanTransitionTo(StatusApproved) {
		return fmt.Errorf("cannot approve action %s in status %s", a.IdempotencyKey, a.Status)
	}
	a.ApprovalID = approvalID
	a.Status = StatusApproved
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// BeginExecution gates execution on status and re-verifies the payload
// hash against the value recorded at registration.
func (a *ExternalAction) BeginExecution(presentedHash string) error {
	if presentedHash != a.PayloadHash {
		a.Status = StatusHashMismatch
		a.UpdatedAt = time.Now().UTC()
		return &model.HashMismatchError{
			IdempotencyKey: a.IdempotencyKey,
			StoredHash:     a.PayloadHash,
			PresentedHash:  presentedHash,
		}
	}
	if a.Status != StatusPending && a.Status != StatusApproved {
		return fmt.Errorf("cannot execute action %s in status %s", a.IdempotencyKey, a.Status)
	}
	a.Status = StatusExecuting
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete marks the action COMPLETED with a redacted response summary
func (a *ExternalAction) Complete(responseSummary string) error {
	if !a.Status.CanTransitionTo(StatusCompleted) {
		return fmt.Errorf("cannot complete action %s in status %s", a.IdempotencyKey, a.Status)
	}
	a.Status = StatusCompleted
	a.ResponseSummary = responseSummary
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail records a failure; the action stays retryable until MaxRetries
func (a *ExternalAction) Fail(errMsg string) error {
	if !a.Status.CanTransitionTo(StatusFailed) {
		return fmt.Errorf("cannot fail action %s in status %s", a.IdempotencyKey, a.Status)
	}
	a.Status = StatusFailed
	a.ErrorMessage = errMsg
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Retry transitions FAILED back to EXECUTING, bounded by MaxRetries
func (a *ExternalAction) Retry() error {
	if a.Status != StatusFailed {
		return fmt.Errorf("cannot retry action %s in status %s", a.IdempotencyKey, a.Status)
	}
	if a.RetryCount >= a.MaxRetries {
		return fmt.Errorf("action %s exhausted retries (%d/%d)", a.IdempotencyKey, a.RetryCount, a.MaxRetries)
	}
	a.RetryCount++
	a.Status = StatusExecuting
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel moves any non-terminal action to CANCELLED
func (a *ExternalAction) Cancel(reason string) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("cannot cancel action %s in terminal status %s", a.IdempotencyKey, a.Status)
	}
	a.Status = StatusCancelled
	if reason != "" {
		a.ErrorMessage = reason
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// IsCompleted reports whether the side effect has been performed
func (a *ExternalAction) IsCompleted() bool {
	return a.Status == StatusCompleted
}

// summarizePayload renders a short redacted request summary. Values are
// elided; only key names survive into the ledger.
func summarizePayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := "keys:"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}
