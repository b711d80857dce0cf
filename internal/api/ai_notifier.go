package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// AINotifier tells the external AI service that a session is ready for
// its participant. The notification is fire-and-forget: the AI joins
// through the same gateway endpoints as everyone else, so a failed
// trigger costs a round its AI seat but never a lifecycle invariant.
type AINotifier struct {
	serviceURL   string
	websocketURL string
	client       *http.Client
}

// NewAINotifier creates a notifier for serviceURL. An empty URL
// disables notifications entirely.
func NewAINotifier(serviceURL, websocketURL string, timeout time.Duration) *AINotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AINotifier{
		serviceURL:   serviceURL,
		websocketURL: websocketURL,
		client:       &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a service URL is configured.
func (n *AINotifier) Enabled() bool {
	return n != nil && n.serviceURL != ""
}

// NotifyAsync posts the session reference to the AI service on a
// background goroutine.
func (n *AINotifier) NotifyAsync(sessionID string) {
	if !n.Enabled() {
		return
	}
	go func() {
		if err := n.notify(sessionID); err != nil {
			log.Printf("AI service notification failed for session %s: %v", sessionID, err)
		}
	}()
}

func (n *AINotifier) notify(sessionID string) error {
	body, err := json.Marshal(map[string]string{
		"session_id":    sessionID,
		"websocket_url": n.websocketURL,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.serviceURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("AI service returned status %d", resp.StatusCode)
	}
	log.Printf("AI service notified: session=%s", sessionID)
	return nil
}
