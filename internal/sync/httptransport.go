package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSendTimeout      = 5 * time.Second
	defaultDeferredInterval = 30 * time.Second
)

// HTTPTransportConfig configures the HTTP link to the peer agent.
type HTTPTransportConfig struct {
	PeerURL          string
	DeviceID         string
	PairingSecret    string
	SendTimeout      time.Duration
	DeferredInterval time.Duration
	Client           *http.Client
	Logger           *zap.Logger
}

// HTTPTransport delivers events to the peer agent's HTTP endpoint. The
// immediate channel is a bounded-timeout POST; the deferred channel spools
// events locally and retries opportunistically in the background.
type HTTPTransport struct {
	peerURL          string
	deviceID         string
	pairingSecret    string
	sendTimeout      time.Duration
	deferredInterval time.Duration
	client           *http.Client
	logger           *zap.Logger

	mu        stdsync.Mutex
	state     ActivationState
	token     string
	reachable bool
	spool     []Event
}

// NewHTTPTransport constructs an HTTPTransport. Activate must be called
// before the transport can send.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	if strings.TrimSpace(cfg.PeerURL) == "" {
		return nil, fmt.Errorf("peer url is required")
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, fmt.Errorf("device id is required")
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	deferredInterval := cfg.DeferredInterval
	if deferredInterval <= 0 {
		deferredInterval = defaultDeferredInterval
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{
		peerURL:          strings.TrimRight(cfg.PeerURL, "/"),
		deviceID:         cfg.DeviceID,
		pairingSecret:    cfg.PairingSecret,
		sendTimeout:      sendTimeout,
		deferredInterval: deferredInterval,
		client:           client,
		logger:           logger,
	}, nil
}

type pairRequestPayload struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
}

type pairResponsePayload struct {
	AccessToken string `json:"access_token"`
}

// Activate pairs with the peer and starts the deferred-channel drain loop.
// The loop stops when ctx is cancelled.
func (t *HTTPTransport) Activate(ctx context.Context) error {
	t.setState(Activating)

	requestBody, err := json.Marshal(pairRequestPayload{DeviceID: t.deviceID, Secret: t.pairingSecret})
	if err != nil {
		t.setState(ActivationFailed)
		return err
	}

	pairCtx, cancel := context.WithTimeout(ctx, t.sendTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(pairCtx, http.MethodPost, t.peerURL+"/v1/pair", bytes.NewReader(requestBody))
	if err != nil {
		t.setState(ActivationFailed)
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := t.client.Do(request)
	if err != nil {
		t.setState(ActivationFailed)
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.setState(ActivationFailed)
		return fmt.Errorf("pairing rejected with status %d", response.StatusCode)
	}

	var pairResponse pairResponsePayload
	if err := json.NewDecoder(response.Body).Decode(&pairResponse); err != nil {
		t.setState(ActivationFailed)
		return err
	}

	t.mu.Lock()
	t.token = pairResponse.AccessToken
	t.state = Activated
	t.reachable = true
	t.mu.Unlock()

	go t.drainDeferred(ctx)
	return nil
}

// ActivationState reports the current session lifecycle state.
func (t *HTTPTransport) ActivationState() ActivationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reachable reports the last known probe result.
func (t *HTTPTransport) Reachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reachable
}

// Probe checks the peer's health endpoint and records the result. It is the
// probe function the reachability monitor runs on its interval.
func (t *HTTPTransport) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, t.sendTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(probeCtx, http.MethodGet, t.peerURL+"/v1/healthz", nil)
	if err != nil {
		t.setReachable(false)
		return false
	}
	response, err := t.client.Do(request)
	if err != nil {
		t.setReachable(false)
		return false
	}
	defer response.Body.Close()
	online := response.StatusCode == http.StatusOK
	t.setReachable(online)
	return online
}

// SendImmediate posts the event to the peer and fails fast when the peer does
// not answer within the configured timeout.
func (t *HTTPTransport) SendImmediate(ctx context.Context, event Event) error {
	t.mu.Lock()
	state := t.state
	reachable := t.reachable
	token := t.token
	t.mu.Unlock()

	if state != Activated {
		return ErrNotActivated
	}
	if !reachable {
		return ErrPeerUnreachable
	}
	return t.post(ctx, event, token)
}

// SendDeferred accepts the event unconditionally and delivers it whenever the
// peer next answers. No local acknowledgment, no ordering guarantee.
func (t *HTTPTransport) SendDeferred(event Event) error {
	t.mu.Lock()
	t.spool = append(t.spool, event)
	t.mu.Unlock()
	return nil
}

func (t *HTTPTransport) drainDeferred(ctx context.Context) {
	ticker := time.NewTicker(t.deferredInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := t.FlushDeferred(ctx); err != nil {
			t.logger.Debug("deferred drain pass incomplete", zap.Error(err))
		}
	}
}

// FlushDeferred attempts one delivery pass over the deferred spool. Events
// that fail to post go back on the spool for the next pass.
func (t *HTTPTransport) FlushDeferred(ctx context.Context) error {
	t.mu.Lock()
	queued := t.spool
	t.spool = nil
	token := t.token
	t.mu.Unlock()

	var lastErr error
	remaining := queued[:0]
	for _, event := range queued {
		if err := t.post(ctx, event, token); err != nil {
			remaining = append(remaining, event)
			lastErr = err
		}
	}
	if len(remaining) > 0 {
		t.mu.Lock()
		t.spool = append(remaining, t.spool...)
		t.mu.Unlock()
	}
	return lastErr
}

func (t *HTTPTransport) post(ctx context.Context, event Event, token string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, t.sendTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(sendCtx, http.MethodPost, t.peerURL+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := t.client.Do(request)
	if err != nil {
		t.setReachable(false)
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusAccepted && response.StatusCode != http.StatusOK {
		return fmt.Errorf("peer rejected %s event with status %d", event.Type, response.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) setState(state ActivationState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

func (t *HTTPTransport) setReachable(online bool) {
	t.mu.Lock()
	t.reachable = online
	t.mu.Unlock()
}
