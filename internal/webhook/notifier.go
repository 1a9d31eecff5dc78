package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nmorozov/authd/internal/config"
	"github.com/nmorozov/authd/internal/logger"
)

// Notifier reports security-relevant login events to an external endpoint.
// Delivery is best-effort: failures are logged, never propagated.
type Notifier interface {
	NotifyNewIP(ctx context.Context, username, ipAddress string)
}

type newIPEvent struct {
	Event     string    `json:"event"`
	Username  string    `json:"username"`
	IPAddress string    `json:"ip_address"`
	At        time.Time `json:"at"`
}

type httpNotifier struct {
	client *http.Client
	url    string
	logger logger.Logger
}

// New creates a webhook notifier. With an empty URL the notifier is disabled
// and every call is a no-op.
func New(cfg config.WebhookConfig, l logger.Logger) Notifier {
	return &httpNotifier{
		client: &http.Client{Timeout: time.Duration(cfg.Timeout)},
		url:    cfg.URL,
		logger: l,
	}
}

// NotifyNewIP posts a login-from-new-address event.
func (n *httpNotifier) NotifyNewIP(ctx context.Context, username, ipAddress string) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(newIPEvent{
		Event:     "login_new_ip",
		Username:  username,
		IPAddress: ipAddress,
		At:        time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("Failed to marshal webhook event", logger.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("Failed to build webhook request", logger.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("Webhook delivery failed",
			logger.String("username", username),
			logger.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("Webhook endpoint rejected event",
			logger.String("username", username),
			logger.Int("status", resp.StatusCode))
		return
	}

	n.logger.Info("New IP login reported",
		logger.String("username", username),
		logger.String("ip", ipAddress))
}
