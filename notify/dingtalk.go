package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"content-security-bff/pkg/moderation"
)

const (
	// DefaultBaseURL is the DingTalk open API root.
	DefaultBaseURL = "https://oapi.dingtalk.com"

	// MsgMissingIPOrUA is returned when the visitor IP or User-Agent is absent.
	MsgMissingIPOrUA = "IP 或 UA 缺失"

	// MsgNotConfigured is returned when no robot credentials are configured.
	MsgNotConfigured = "webhook not configured"

	timestampLayout = "2006/1/2 15:04:05"
	maxResponseBody = 64 << 10
)

// Result is the declared outcome of a report. Failures are data, not errors.
type Result struct {
	Data    *Echo  `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Success bool   `json:"success"`
}

// Echo mirrors the outbound call for observability.
type Echo struct {
	Body      TextMessage     `json:"body"`
	Response  json.RawMessage `json:"response"`
	IP        string          `json:"ip"`
	UA        string          `json:"ua"`
	Timestamp string          `json:"timestamp"`
	Sign      string          `json:"sign"`
	Webhook   string          `json:"webhook"`
}

// TextMessage is the robot "text" message payload.
type TextMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type robotResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Config holds the robot credentials and endpoint.
type Config struct {
	Location    *time.Location   // Zone for the human-readable time line; defaults to UTC+8
	Now         func() time.Time // Clock; defaults to time.Now
	BaseURL     string
	AccessToken string
	Secret      string
}

// Notifier posts signed visitor alerts to a DingTalk robot.
type Notifier struct {
	client      *http.Client
	logger      *slog.Logger
	location    *time.Location
	now         func() time.Time
	baseURL     string
	accessToken string
	secret      string
}

// New creates a Notifier.
func New(client *http.Client, cfg Config, logger *slog.Logger) *Notifier {
	n := &Notifier{
		client:      client,
		logger:      logger,
		location:    cfg.Location,
		now:         cfg.Now,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		secret:      cfg.Secret,
	}
	if n.baseURL == "" {
		n.baseURL = DefaultBaseURL
	}
	if n.location == nil {
		n.location = time.FixedZone("CST", 8*60*60)
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n
}

// Configured reports whether robot credentials are present.
func (n *Notifier) Configured() bool {
	return n.accessToken != "" && n.secret != ""
}

// Report signs and sends an alert about a visitor. It never returns an error;
// every failure is folded into a Result with Success false.
func (n *Notifier) Report(ctx context.Context, ip, userAgent string) Result {
	if ip == "" || userAgent == "" {
		return Result{Success: false, Message: MsgMissingIPOrUA}
	}
	if !n.Configured() {
		n.logger.Warn("Webhook report skipped, robot credentials not configured")
		return Result{Success: false, Message: MsgNotConfigured}
	}

	now := n.now()
	alert := moderation.Alert{
		IP:        ip,
		UserAgent: userAgent,
		Timestamp: now.UnixMilli(),
	}
	timestamp := strconv.FormatInt(alert.Timestamp, 10)
	alert.Sign = Sign(timestamp, n.secret)

	webhook := fmt.Sprintf("%s/robot/send?access_token=%s&timestamp=%s&sign=%s",
		n.baseURL, url.QueryEscape(n.accessToken), timestamp, alert.Sign)

	var msg TextMessage
	msg.MsgType = "text"
	msg.Text.Content = strings.Join([]string{
		"公网IP: " + alert.IP,
		"UA: " + alert.UserAgent,
		"时间: " + now.In(n.location).Format(timestampLayout),
	}, "\n")

	raw, err := n.post(ctx, webhook, msg)
	if err != nil {
		n.logger.Warn("Webhook report failed", "ip", ip, "error", err)
		return Result{Success: false, Message: err.Error()}
	}

	var reply robotResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		n.logger.Warn("Webhook response not JSON", "ip", ip, "error", err)
		return Result{Success: false, Message: fmt.Sprintf("decode response: %v", err)}
	}

	echo := &Echo{
		IP:        alert.IP,
		UA:        alert.UserAgent,
		Timestamp: timestamp,
		Sign:      alert.Sign,
		Webhook:   webhook,
		Body:      msg,
		Response:  raw,
	}

	if reply.ErrCode != nil && *reply.ErrCode == 0 {
		n.logger.Info("Webhook report delivered", "ip", ip)
		return Result{Success: true, Data: echo}
	}

	message := reply.ErrMsg
	if message == "" {
		message = "unexpected robot response"
	}
	n.logger.Warn("Webhook report rejected", "ip", ip, "errmsg", reply.ErrMsg)
	return Result{Success: false, Message: message, Data: echo}
}

// post sends msg once and returns the raw body of a 2xx response.
func (n *Notifier) post(ctx context.Context, webhook string, msg TextMessage) ([]byte, error) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	n.logger.Info("Robot API request starting",
		"method", "POST",
		"endpoint", "robot/send",
		"host", req.URL.Host)

	startTime := time.Now()
	resp, err := n.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		// Transport errors embed the URL, which carries the access token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("robot request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			n.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	n.logger.Info("Robot API request completed",
		"endpoint", "robot/send",
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("robot API HTTP %d", resp.StatusCode)
	}
	return body, nil
}
