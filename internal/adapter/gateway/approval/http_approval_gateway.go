package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/domain/model"
)

// HTTPApprovalGateway talks to the approval service over HTTP. It also
// implements the run-status boundary since both live on the same
// backend.
type HTTPApprovalGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPApprovalGateway creates a gateway against baseURL
func NewHTTPApprovalGateway(baseURL string, timeout time.Duration) *HTTPApprovalGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPApprovalGateway{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RequestApproval files an approval request
func (g *HTTPApprovalGateway) RequestApproval(ctx context.Context, payload map[string]interface{}) (*output.ApprovalTicket, error) {
	return g.request(ctx, "/approvals", payload)
}

// PollApprovalStatus reads the current status of an approval
func (g *HTTPApprovalGateway) PollApprovalStatus(ctx context.Context, approvalID string) (*output.ApprovalStatus, error) {
	return g.poll(ctx, "/approvals/"+approvalID)
}

// RequestClarification files a clarification request
func (g *HTTPApprovalGateway) RequestClarification(ctx context.Context, payload map[string]interface{}) (*output.ApprovalTicket, error) {
	return g.request(ctx, "/clarifications", payload)
}

// PollClarificationStatus reads the current status of a clarification
func (g *HTTPApprovalGateway) PollClarificationStatus(ctx context.Context, approvalID string) (*output.ApprovalStatus, error) {
	return g.poll(ctx, "/clarifications/"+approvalID)
}

// GetRunStatus reads the backing store's view of a run. A 404 surfaces
// as model.RunNotFoundError so callers can tell fatal from transient.
func (g *HTTPApprovalGateway) GetRunStatus(ctx context.Context, runID string) (*output.RunStatus, error) {
	body, status, err := g.do(ctx, http.MethodGet, "/runs/"+runID, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &model.RunNotFoundError{RunID: runID}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("run status query returned %d", status)
	}

	var rs output.RunStatus
	if err := json.Unmarshal(body, &rs); err != nil {
		return nil, fmt.Errorf("parse run status: %w", err)
	}
	return &rs, nil
}

func (g *HTTPApprovalGateway) request(ctx context.Context, path string, payload map[string]interface{}) (*output.ApprovalTicket, error) {
	body, status, err := g.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("approval request returned %d", status)
	}

	var ticket struct {
		ApprovalID string `json:"approval_id"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, fmt.Errorf("parse approval ticket: %w", err)
	}
	return &output.ApprovalTicket{ApprovalID: ticket.ApprovalID, Status: ticket.Status}, nil
}

func (g *HTTPApprovalGateway) poll(ctx context.Context, path string) (*output.ApprovalStatus, error) {
	body, status, err := g.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("approval poll returned %d", status)
	}

	var st struct {
		Status   string `json:"status"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("parse approval status: %w", err)
	}
	return &output.ApprovalStatus{Status: st.Status, Response: st.Response}, nil
}

func (g *HTTPApprovalGateway) do(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}
