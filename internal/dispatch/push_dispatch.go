package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/parkswap/internal/signals"
)

// PushDispatcher posts envelopes for users without an open session to a push
// provider's HTTP endpoint.
type PushDispatcher struct {
	Endpoint string // e.g. provider HTTP endpoint
	Key      string // optional bearer token
	Client   *http.Client
}

func NewPushDispatcher(endpoint, key string) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

type pushMessage struct {
	UserID string           `json:"user_id"`
	Data   signals.Envelope `json:"data"`
}

func (p *PushDispatcher) Push(ctx context.Context, userID string, env signals.Envelope) error {
	b, err := json.Marshal(map[string]pushMessage{"message": {UserID: userID, Data: env}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint status %d", resp.StatusCode)
	}
	return nil
}
