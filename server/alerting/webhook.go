package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cyclopcam/logs"
)

type WebhookConfig struct {
	URL            string  `json:"url"` // empty disables delivery
	TimeoutSeconds float64 `json:"timeoutSeconds"`
	MaxRetries     int     `json:"maxRetries"`
	QueueSize      int     `json:"queueSize"`
}

func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		TimeoutSeconds: 10,
		MaxRetries:     3,
		QueueSize:      64,
	}
}

func (c WebhookConfig) Validate() error {
	if c.URL != "" {
		if _, err := url.ParseRequestURI(c.URL); err != nil {
			return fmt.Errorf("webhook: invalid url %q: %w", c.URL, err)
		}
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("webhook: timeoutSeconds %v must be positive", c.TimeoutSeconds)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("webhook: maxRetries %v must be at least 1", c.MaxRetries)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("webhook: queueSize %v must be at least 1", c.QueueSize)
	}
	return nil
}

// Webhook posts alerts to an external endpoint. Delivery runs on its own
// goroutine behind a bounded queue so that a slow endpoint never blocks
// the frame loop. Failed posts are retried with exponential backoff, and
// exhaustion is logged, never escalated.
type Webhook struct {
	log      logs.Log
	cfg      WebhookConfig
	client   *http.Client
	queue    chan *Alert
	stopped  chan bool
	backoff  time.Duration // base delay, grows 2x per attempt
}

func NewWebhook(log logs.Log, cfg WebhookConfig) (*Webhook, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Webhook{
		log:     log,
		cfg:     cfg,
		client:  &http.Client{},
		queue:   make(chan *Alert, cfg.QueueSize),
		stopped: make(chan bool),
		backoff: time.Second,
	}
	go w.run()
	return w, nil
}

// Callback returns the delivery callback to register on the alert engine.
// If the queue is full, the alert is dropped with a warning rather than
// stalling the caller.
func (w *Webhook) Callback() Callback {
	return func(alert *Alert) error {
		select {
		case w.queue <- alert:
			return nil
		default:
			return fmt.Errorf("webhook queue full, dropping alert %v", alert.ID)
		}
	}
}

// Close drains the queue and stops the delivery goroutine
func (w *Webhook) Close() {
	close(w.queue)
	<-w.stopped
}

func (w *Webhook) run() {
	for alert := range w.queue {
		w.send(alert)
	}
	close(w.stopped)
}

func (w *Webhook) send(alert *Alert) {
	body, err := json.Marshal(alert)
	if err != nil {
		w.log.Errorf("Failed to marshal alert %v: %v", alert.ID, err)
		return
	}
	delay := w.backoff
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		if err := w.post(body); err == nil {
			w.log.Infof("Alert %v delivered to webhook", alert.ID)
			return
		} else {
			w.log.Warnf("Webhook delivery of alert %v failed (attempt %v/%v): %v", alert.ID, attempt, w.cfg.MaxRetries, err)
		}
		if attempt < w.cfg.MaxRetries {
			time.Sleep(delay)
			delay *= 2
		}
	}
	w.log.Errorf("Failed to deliver alert %v after %v attempts", alert.ID, w.cfg.MaxRetries)
}

func (w *Webhook) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.cfg.TimeoutSeconds*float64(time.Second)))
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %v", resp.Status)
	}
	return nil
}
