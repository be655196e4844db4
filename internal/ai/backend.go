package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// Client is the Collaborator backed by the assessment AI service's HTTP API.
type Client struct {
	baseURL     string
	apiKey      string
	callTimeout time.Duration
	retry       RetryPolicy
	httpClient  *http.Client
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCallTimeout bounds each attempt. Default 60s.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout = d }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// NewClient returns a Client for the backend at baseURL, e.g.
// "http://localhost:5000". Endpoints live under /api/ai/.
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		callTimeout: 60 * time.Second,
		retry:       DefaultRetryPolicy(),
		httpClient:  &http.Client{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ─── WIRE SHAPES ──────────────────────────────────────────────────────────────
// Requests follow the backend's camelCase convention. Responses accept both
// the generic keys (content, conversation_id) and the per-endpoint keys the
// service emits (overview, operational, conversationId).

type eventRequest struct {
	EventData model.EventData `json:"eventData"`
}

type nextRiskRequest struct {
	ConversationID string `json:"conversationId"`
	RiskNumber     int    `json:"riskNumber"`
}

type additionalRisksRequest struct {
	ConversationID string            `json:"conversationId"`
	EventData      model.EventData   `json:"eventData"`
	ExistingRisks  []model.RiskShape `json:"existingRisks"`
	NumRisks       int               `json:"numRisks"`
}

type singleRiskRequest struct {
	EventData  model.EventData `json:"eventData"`
	RiskNumber int             `json:"riskNumber"`
	TotalRisks int             `json:"totalRisks"`
}

type justificationRequest struct {
	EventData  model.EventData  `json:"eventData"`
	FieldType  string           `json:"fieldType"`
	FieldValue string           `json:"fieldValue"`
	RiskData   *model.RiskShape `json:"riskData,omitempty"`
}

type detailsRequest struct {
	EventData model.EventData   `json:"eventData"`
	Risks     []model.RiskShape `json:"risks,omitempty"`
	Score     int               `json:"score,omitempty"`
	Level     string            `json:"level,omitempty"`
	Status    string            `json:"status,omitempty"`
}

type backendResponse struct {
	Content        string          `json:"content"`
	Overview       string          `json:"overview"`
	Operational    string          `json:"operational"`
	ConversationID string          `json:"conversation_id"`
	ConversationId string          `json:"conversationId"` //nolint:revive // wire name
	Risk           json.RawMessage `json:"risk"`
	Risks          json.RawMessage `json:"risks"`
	Reasoning      string          `json:"reasoning"`
	Sources        []string        `json:"sources"`
	Details        []string        `json:"details"`
	Error          string          `json:"error"`
}

func (r backendResponse) text() string {
	for _, s := range []string{r.Content, r.Overview, r.Operational} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (r backendResponse) handle() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ConversationId
}

// ─── IMPLEMENTATION ───────────────────────────────────────────────────────────

func (c *Client) GenerateOverview(ctx context.Context, ev model.EventData) (string, error) {
	return c.generateText(ctx, "generate-overview", ev)
}

func (c *Client) GenerateOperational(ctx context.Context, ev model.EventData) (string, error) {
	return c.generateText(ctx, "generate-operational", ev)
}

func (c *Client) generateText(ctx context.Context, endpoint string, ev model.EventData) (string, error) {
	resp, err := c.call(ctx, endpoint, eventRequest{EventData: ev})
	if err != nil {
		return "", err
	}
	text := resp.text()
	if text == "" {
		return "", unparseable(endpoint, "empty content")
	}
	return text, nil
}

func (c *Client) StartRiskConversation(ctx context.Context, ev model.EventData) (string, error) {
	const endpoint = "start-risk-conversation"
	resp, err := c.call(ctx, endpoint, eventRequest{EventData: ev})
	if err != nil {
		return "", err
	}
	id := resp.handle()
	if id == "" {
		return "", unparseable(endpoint, "missing conversation id")
	}
	return id, nil
}

func (c *Client) GenerateNextRisk(ctx context.Context, conversationID string, n int) (model.RiskShape, error) {
	const endpoint = "generate-next-risk"
	resp, err := c.call(ctx, endpoint, nextRiskRequest{ConversationID: conversationID, RiskNumber: n})
	if err != nil {
		return model.RiskShape{}, err
	}
	return decodeRisk(endpoint, resp.Risk)
}

func (c *Client) GenerateAdditionalRisks(ctx context.Context, conversationID string, ev model.EventData, existing []model.RiskItem, count int) ([]model.RiskShape, error) {
	const endpoint = "generate-additional-risks"
	resp, err := c.call(ctx, endpoint, additionalRisksRequest{
		ConversationID: conversationID,
		EventData:      ev,
		ExistingRisks:  shapes(existing),
		NumRisks:       count,
	})
	if err != nil {
		return nil, err
	}

	var out []model.RiskShape
	if err := unmarshalLenient(resp.Risks, &out); err != nil {
		return nil, goerr.Wrap(model.ErrCollaborator, "unparseable risks",
			goerr.V("endpoint", endpoint), goerr.V("cause", err.Error()))
	}
	return out, nil
}

func (c *Client) GenerateSingleRisk(ctx context.Context, ev model.EventData, n, total int) (model.RiskShape, error) {
	const endpoint = "generate-single-risk"
	resp, err := c.call(ctx, endpoint, singleRiskRequest{EventData: ev, RiskNumber: n, TotalRisks: total})
	if err != nil {
		return model.RiskShape{}, err
	}
	return decodeRisk(endpoint, resp.Risk)
}

func (c *Client) GenerateJustification(ctx context.Context, req JustificationRequest) (model.Justification, error) {
	const endpoint = "generate-justification"
	body := justificationRequest{
		EventData:  req.Event,
		FieldType:  req.FieldType,
		FieldValue: req.FieldValue,
	}
	if req.Risk != nil {
		shape := model.ShapeOf(*req.Risk)
		body.RiskData = &shape
	}

	resp, err := c.call(ctx, endpoint, body)
	if err != nil {
		return model.Justification{}, err
	}
	if strings.TrimSpace(resp.Reasoning) == "" {
		return model.Justification{}, unparseable(endpoint, "empty reasoning")
	}
	return model.Justification{Reasoning: strings.TrimSpace(resp.Reasoning), Sources: resp.Sources}, nil
}

func (c *Client) GenerateContextDetails(ctx context.Context, ev model.EventData, score int, level string) ([]string, error) {
	return c.generateDetails(ctx, "generate-rekon-context", detailsRequest{EventData: ev, Score: score, Level: level})
}

func (c *Client) GenerateRiskDetails(ctx context.Context, ev model.EventData, risks []model.RiskItem, score int, level string) ([]string, error) {
	return c.generateDetails(ctx, "generate-rekon-risk", detailsRequest{EventData: ev, Risks: shapes(risks), Score: score, Level: level})
}

func (c *Client) GenerateComplianceDetails(ctx context.Context, ev model.EventData, risks []model.RiskItem, status string) ([]string, error) {
	return c.generateDetails(ctx, "generate-rekon-compliance", detailsRequest{EventData: ev, Risks: shapes(risks), Status: status})
}

func (c *Client) generateDetails(ctx context.Context, endpoint string, body detailsRequest) ([]string, error) {
	resp, err := c.call(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	var details []string
	for _, d := range resp.Details {
		if d = strings.TrimSpace(d); d != "" {
			details = append(details, d)
		}
	}
	if len(details) == 0 {
		return nil, unparseable(endpoint, "no details")
	}
	return details, nil
}

// ─── TRANSPORT ────────────────────────────────────────────────────────────────

// call posts body to /api/ai/<endpoint> under the retry policy and decodes the
// response envelope. Every error it returns wraps model.ErrCollaborator.
func (c *Client) call(ctx context.Context, endpoint string, body any) (backendResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return backendResponse{}, goerr.Wrap(model.ErrCollaborator, "marshal request",
			goerr.V("endpoint", endpoint), goerr.V("cause", err.Error()))
	}

	var out backendResponse
	attempts, err := c.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.attempt(ctx, endpoint, bodyBytes)
		return err
	})
	if err != nil {
		c.logger.Warn("ai: call failed", "endpoint", endpoint, "attempts", attempts, "error", err)
		return backendResponse{}, goerr.Wrap(model.ErrCollaborator, "ai call failed",
			goerr.V("endpoint", endpoint),
			goerr.V("attempts", attempts),
			goerr.V("cause", err.Error()))
	}
	if attempts > 1 {
		c.logger.Info("ai: call succeeded after retry", "endpoint", endpoint, "attempts", attempts)
	}
	return out, nil
}

// attempt performs one bounded HTTP round trip.
func (c *Client) attempt(ctx context.Context, endpoint string, bodyBytes []byte) (backendResponse, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/ai/"+endpoint,
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return backendResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backendResponse{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap
	if err != nil {
		return backendResponse{}, fmt.Errorf("read response body: %w", err)
	}

	var parsed backendResponse
	decodeErr := json.Unmarshal(respBytes, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
		if decodeErr == nil && parsed.Error != "" {
			msg = fmt.Sprintf("status %d: %s", resp.StatusCode, parsed.Error)
		}
		return backendResponse{}, &statusError{status: resp.StatusCode, msg: msg}
	}
	if decodeErr != nil {
		return backendResponse{}, fmt.Errorf("unmarshal response: %w", decodeErr)
	}
	if parsed.Error != "" {
		return backendResponse{}, fmt.Errorf("backend error: %s", parsed.Error)
	}
	return parsed, nil
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

func unparseable(endpoint, reason string) error {
	return goerr.Wrap(model.ErrCollaborator, "unparseable response",
		goerr.V("endpoint", endpoint), goerr.V("reason", reason))
}

func decodeRisk(endpoint string, raw json.RawMessage) (model.RiskShape, error) {
	var shape model.RiskShape
	if err := unmarshalLenient(raw, &shape); err != nil {
		return model.RiskShape{}, goerr.Wrap(model.ErrCollaborator, "unparseable risk",
			goerr.V("endpoint", endpoint), goerr.V("cause", err.Error()))
	}
	return shape, nil
}

// unmarshalLenient decodes raw into dst. The backend sometimes returns the
// payload as a JSON string holding JSON, optionally wrapped in markdown
// fences; both are accepted.
func unmarshalLenient(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("missing payload")
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return err
		}
		raw = json.RawMessage(stripFences(inner))
	}
	return json.Unmarshal(raw, dst)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func shapes(risks []model.RiskItem) []model.RiskShape {
	out := make([]model.RiskShape, len(risks))
	for i, r := range risks {
		out[i] = model.ShapeOf(r)
	}
	return out
}
