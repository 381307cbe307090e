package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mailblast/internal/classify"
)

// ZohoConfig configures the CRM function-invoke driver.
//
// The account's session cookies and headers come from the dashboard's
// account store; this layer only replays them.
type ZohoConfig struct {
	// Endpoint is the function-invoke URL, e.g.
	// https://crm.zoho.com/crm/v7/settings/functions/<fn>/actions/test
	Endpoint   string
	TemplateID string

	Headers map[string]string
	Cookies map[string]string

	Timeout time.Duration
}

// ZohoSender sends one mail per request by invoking a Deluge function that
// wraps sendmail with a stored email template.
type ZohoSender struct {
	cfg    ZohoConfig
	client *http.Client
}

func NewZoho(cfg ZohoConfig) *ZohoSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ZohoSender{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type zohoInvoke struct {
	Functions []zohoFunction `json:"functions"`
}

type zohoFunction struct {
	Script    string         `json:"script"`
	Arguments map[string]any `json:"arguments"`
}

type zohoReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *ZohoSender) Send(ctx context.Context, msg Message) (Result, error) {
	payload := zohoInvoke{
		Functions: []zohoFunction{{
			Script:    s.script(msg),
			Arguments: map[string]any{},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("zoho: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("zoho: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range s.cfg.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	res, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("zoho: %w", err)
	}
	defer res.Body.Close()

	var reply zohoReply
	// Non-JSON bodies are tolerated; the status code still decides.
	_ = json.NewDecoder(res.Body).Decode(&reply)

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return Result{StatusCode: res.StatusCode},
			Auth(fmt.Errorf("zoho: status %d: %s", res.StatusCode, reply.Message))
	case res.StatusCode == http.StatusTooManyRequests:
		after := parseRetryAfter(res.Header.Get("Retry-After"))
		return Result{StatusCode: res.StatusCode},
			RetryAfter(fmt.Errorf("zoho: throttled: %s", reply.Message), after)
	}

	// The invoke endpoint reports success as 200 with code "success"
	// (or no code at all on older tenants).
	if res.StatusCode == http.StatusOK && (reply.Code == "success" || reply.Code == "") {
		return Result{StatusCode: res.StatusCode, Verdict: classify.VerdictNone}, nil
	}

	return Result{StatusCode: res.StatusCode},
		fmt.Errorf("zoho: status %d code %q: %s", res.StatusCode, reply.Code, reply.Message)
}

// script renders the Deluge function body for one recipient. The template
// content itself stays in Zoho; only addressing and subject vary per send.
func (s *ZohoSender) script(msg Message) string {
	return fmt.Sprintf(`void automation.Send_Email_Template1()
{
    curl = "https://www.zohoapis.com/crm/v7/settings/email_templates/%s";

    getTemplate = invokeurl
    [
        url: curl
        type: GET
        connection: "re"
    ];

    EmailTemplateContent = getTemplate.get("email_templates").get(0).get("content");

    destinataires = list();
    destinataires.add("%s");

    sendmail
    [
        from: "%s <" + zoho.loginuserid + ">"
        to: destinataires
        subject: "%s"
        message: EmailTemplateContent
    ];
}`, s.cfg.TemplateID, msg.Recipient, msg.From.Name, msg.Subject)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
