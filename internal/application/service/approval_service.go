package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/domain/model"
)

// Clock abstracts time observation for deterministic tests
type Clock interface {
	Now() time.Time
}

// Sleeper abstracts waiting between polls
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// SystemSleeper waits with a timer, honoring context cancellation
type SystemSleeper struct{}

func (SystemSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ApprovalOutcome is the result of a bounded approval wait
type ApprovalOutcome struct {
	ApprovalID string
	Status     string
	Response   string
	TimedOut   bool
	Polls      int
}

// ApprovalService requests approvals and clarifications, then waits for
// resolution by bounded polling. With timeout T and interval I the wait
// performs at most floor(T/I)+1 polls; the timeout is checked before
// each sleep so the wait never oversleeps past the deadline.
type ApprovalService struct {
	gateway  output.ApprovalGateway
	interval time.Duration
	timeout  time.Duration
	clock    Clock
	sleeper  Sleeper
	logger   output.Logger
}

// NewApprovalService creates an ApprovalService with the wall clock
func NewApprovalService(gateway output.ApprovalGateway, interval, timeout time.Duration, logger output.Logger) *ApprovalService {
	return NewApprovalServiceWithClock(gateway, interval, timeout, SystemClock{}, SystemSleeper{}, logger)
}

// NewApprovalServiceWithClock creates an ApprovalService with injected
// time sources, used by tests.
func NewApprovalServiceWithClock(gateway output.ApprovalGateway, interval, timeout time.Duration, clock Clock, sleeper Sleeper, logger output.Logger) *ApprovalService {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &ApprovalService{
		gateway:  gateway,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		sleeper:  sleeper,
		logger:   logger,
	}
}

// RequestApprovalAndWait files an approval request and polls until it
// resolves or the timeout elapses. An expired wait returns
// model.ErrApprovalExpired wrapped with the approval ID.
func (s *ApprovalService) RequestApprovalAndWait(ctx context.Context, payload map[string]interface{}) (*ApprovalOutcome, error) {
	ticket, err := s.gateway.RequestApproval(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("request approval: %w", err)
	}
	return s.wait(ctx, ticket.ApprovalID, s.gateway.PollApprovalStatus, isApprovalTerminal)
}

// RequestClarificationAndWait files a clarification and polls until it
// is answered or the timeout elapses.
func (s *ApprovalService) RequestClarificationAndWait(ctx context.Context, payload map[string]interface{}) (*ApprovalOutcome, error) {
	ticket, err := s.gateway.RequestClarification(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("request clarification: %w", err)
	}
	return s.wait(ctx, ticket.ApprovalID, s.gateway.PollClarificationStatus, isClarificationTerminal)
}

func isApprovalTerminal(status string) bool {
	return status == output.ApprovalApproved || status == output.ApprovalRejected
}

func isClarificationTerminal(status string) bool {
	return status == output.ApprovalAnswered || status == output.ApprovalRejected
}

// wait polls once immediately, then once per interval. Poll errors are
// treated as still-pending observations so a flaky network cannot abort
// a wait that would have resolved on the next poll.
func (s *ApprovalService) wait(ctx context.Context, approvalID string, poll func(context.Context, string) (*output.ApprovalStatus, error), terminal func(string) bool) (*ApprovalOutcome, error) {
	deadline := s.clock.Now().Add(s.timeout)
	outcome := &ApprovalOutcome{ApprovalID: approvalID, Status: output.ApprovalPending}

	for {
		status, err := poll(ctx, approvalID)
		outcome.Polls++
		if err != nil {
			s.logger.Warn("poll for approval %s failed: %v", approvalID, err)
		} else {
			outcome.Status = status.Status
			outcome.Response = status.Response
			if terminal(status.Status) {
				return outcome, nil
			}
		}

		// Give up before a sleep that would end past the deadline; the
		// wait never oversleeps and never polls after expiry.
		if s.clock.Now().Add(s.interval).After(deadline) {
			outcome.TimedOut = true
			return outcome, fmt.Errorf("approval %s: %w", approvalID, model.ErrApprovalExpired)
		}
		if err := s.sleeper.Sleep(ctx, s.interval); err != nil {
			return outcome, err
		}
	}
}
