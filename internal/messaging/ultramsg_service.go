package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/citabot/citabot/internal/models"
)

// DefaultUltraMsgBaseURL is the public UltraMsg API endpoint.
const DefaultUltraMsgBaseURL = "https://api.ultramsg.com"

// UltraMsgOpts holds configuration options for an UltraMsg service instance.
type UltraMsgOpts struct {
	BaseURL    string
	InstanceID string
	Token      string
	HTTPClient *http.Client
}

// UltraMsgOption defines a configuration option for the UltraMsg service.
type UltraMsgOption func(*UltraMsgOpts)

// WithUltraMsgBaseURL overrides the API endpoint (tests point this at a local server).
func WithUltraMsgBaseURL(base string) UltraMsgOption {
	return func(o *UltraMsgOpts) { o.BaseURL = base }
}

// WithUltraMsgInstance sets the instance id and its token.
func WithUltraMsgInstance(instanceID, token string) UltraMsgOption {
	return func(o *UltraMsgOpts) {
		o.InstanceID = instanceID
		o.Token = token
	}
}

// WithUltraMsgHTTPClient sets the HTTP client used for API calls.
func WithUltraMsgHTTPClient(c *http.Client) UltraMsgOption {
	return func(o *UltraMsgOpts) { o.HTTPClient = c }
}

// UltraMsgService implements Service against one UltraMsg gateway instance.
// Inbound traffic arrives through the webhook endpoint, not here, so the
// inbound channel never emits.
type UltraMsgService struct {
	baseURL    string
	instanceID string
	token      string
	httpClient *http.Client

	receipts chan models.Receipt
	inbound  chan models.InboundMessage

	mu      sync.Mutex
	stopped bool
}

// NewUltraMsgService creates an UltraMsg-backed service.
func NewUltraMsgService(opts ...UltraMsgOption) (*UltraMsgService, error) {
	cfg := UltraMsgOpts{
		BaseURL:    DefaultUltraMsgBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.InstanceID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("ultramsg instance id and token must be provided")
	}

	slog.Debug("UltraMsgService created", "instanceID", cfg.InstanceID, "base_url", cfg.BaseURL)
	return &UltraMsgService{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		instanceID: cfg.InstanceID,
		token:      cfg.Token,
		httpClient: cfg.HTTPClient,
		receipts:   make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:    make(chan models.InboundMessage, DefaultChannelBufferSize),
	}, nil
}

// InstanceID returns the gateway instance this service talks to.
func (s *UltraMsgService) InstanceID() string {
	return s.instanceID
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number.
func (s *UltraMsgService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(models.StripJIDSuffix(recipient))
}

// sendResponse is the UltraMsg reply shape for message sends.
type sendResponse struct {
	Sent    string      `json:"sent"`
	Message string      `json:"message"`
	ID      interface{} `json:"id"`
	Error   interface{} `json:"error"`
}

// SendMessage posts a chat message through the gateway and emits a sent
// receipt on success.
func (s *UltraMsgService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("UltraMsgService SendMessage validation error", "error", err, "to", to)
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/messages/chat", s.baseURL, s.instanceID)
	form := url.Values{}
	form.Set("token", s.token)
	form.Set("to", canonicalTo)
	form.Set("body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build ultramsg request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("UltraMsgService SendMessage request failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("ultramsg request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ultramsg response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("UltraMsgService SendMessage rejected", "status", resp.StatusCode, "body", string(raw))
		return fmt.Errorf("ultramsg returned status %d", resp.StatusCode)
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to decode ultramsg response: %w", err)
	}
	if parsed.Error != nil {
		slog.Error("UltraMsgService SendMessage error payload", "error", parsed.Error, "to", canonicalTo)
		return fmt.Errorf("ultramsg send error: %v", parsed.Error)
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Info("UltraMsgService message sent", "to", canonicalTo, "instanceID", s.instanceID)
	return nil
}

// statusResponse is the UltraMsg reply shape for instance status probes.
type statusResponse struct {
	Status struct {
		AccountStatus struct {
			Status    string `json:"status"`
			Substatus string `json:"substatus"`
		} `json:"accountStatus"`
	} `json:"status"`
}

// CheckStatus probes the gateway instance and returns its account status.
func (s *UltraMsgService) CheckStatus(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/instance/status?token=%s", s.baseURL, s.instanceID, url.QueryEscape(s.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build ultramsg status request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ultramsg status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ultramsg status returned %d", resp.StatusCode)
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode ultramsg status: %w", err)
	}
	status := parsed.Status.AccountStatus.Substatus
	if status == "" {
		status = parsed.Status.AccountStatus.Status
	}
	return status, nil
}

// Start is a no-op: UltraMsg pushes inbound traffic to the webhook.
func (s *UltraMsgService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *UltraMsgService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.inbound)
	slog.Debug("UltraMsgService stopped", "instanceID", s.instanceID)
	return nil
}

// Receipts returns a channel of receipt events.
func (s *UltraMsgService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Inbound returns the (never emitting) inbound channel.
func (s *UltraMsgService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

func (s *UltraMsgService) safeEmitReceipt(r models.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- r:
	default:
		slog.Warn("UltraMsgService receipts channel full, dropping receipt", "to", r.To)
	}
}
