package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/nyashahama/event-risk-assessor/internal/export"
)

const defaultEndpoint = "https://api.resend.com/emails"

// ResendClient is the Sender backed by the Resend API.
type ResendClient struct {
	apiKey     string
	fromAddr   string // e.g. "assessments@example.org"
	fromName   string // e.g. "Event Risk Assessor"
	to         []string
	endpoint   string
	httpClient *http.Client
}

// NewResendClient returns a client that delivers every assessment to the
// recipients in to.
func NewResendClient(apiKey, fromAddr, fromName string, to []string) *ResendClient {
	return &ResendClient{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		to:       to,
		endpoint: defaultEndpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithEndpoint points the client at another URL, for tests.
func (c *ResendClient) WithEndpoint(url string) *ResendClient {
	c.endpoint = url
	return c
}

// ─── RESEND API SHAPES ────────────────────────────────────────────────────────

type resendAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
}

type resendRequest struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Subject     string             `json:"subject"`
	HTML        string             `json:"html"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

type resendResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Name       string `json:"name"`
		Message    string `json:"message"`
		StatusCode int    `json:"statusCode"`
	} `json:"error"`
}

// ─── SENDER IMPLEMENTATION ────────────────────────────────────────────────────

// SendAssessmentReady mails the report summary with the PDF attached.
func (c *ResendClient) SendAssessmentReady(ctx context.Context, p export.Notification) error {
	if len(c.to) == 0 {
		return fmt.Errorf("email: no recipients configured")
	}

	subject := fmt.Sprintf("Risk Assessment %s: %s", p.RANumber, p.Title)
	req := resendRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromAddr),
		To:      c.to,
		Subject: subject,
		HTML:    assessmentReadyHTML(p),
	}
	if len(p.PDF) > 0 {
		req.Attachments = []resendAttachment{{
			Filename: p.FileName,
			Content:  base64.StdEncoding.EncodeToString(p.PDF),
		}}
	}
	return c.send(ctx, req)
}

// ─── HTTP SEND ────────────────────────────────────────────────────────────────

func (c *ResendClient) send(ctx context.Context, reqBody resendRequest) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("email: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("email: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("email: read response: %w", err)
	}

	var parsed resendResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return fmt.Errorf("email: unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return fmt.Errorf("email: Resend error %s: %s", parsed.Error.Name, parsed.Error.Message)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	return nil
}

// ─── HTML TEMPLATES ───────────────────────────────────────────────────────────

func assessmentReadyHTML(p export.Notification) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto; padding: 24px;">
  <h2 style="margin-bottom: 8px;">Risk Assessment Complete</h2>
  <p>The assessment for <strong>%s</strong> has been accepted and exported.</p>
  <table style="border-collapse: collapse; margin: 16px 0;">
    <tr><td style="padding: 4px 12px 4px 0; color: #666;">RA Number</td><td>%s</td></tr>
    <tr><td style="padding: 4px 12px 4px 0; color: #666;">Risk Index</td><td>%d/7 (%s)</td></tr>
    <tr><td style="padding: 4px 12px 4px 0; color: #666;">Compliance</td><td>%s</td></tr>
  </table>
  <p>The full report is attached as <em>%s</em>.</p>
  <p style="color: #999; font-size: 12px; margin-top: 32px;">Automated Risk Assessment</p>
</body>
</html>`,
		html.EscapeString(p.Title),
		html.EscapeString(p.RANumber),
		p.RiskIndex, html.EscapeString(p.RiskLevel),
		html.EscapeString(p.Compliance),
		html.EscapeString(p.FileName),
	)
}
