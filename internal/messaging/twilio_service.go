package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/twiliowa"
)

// TwilioService implements Service using the Twilio REST API. Inbound
// traffic arrives through the webhook endpoint, so the inbound channel
// never emits.
type TwilioService struct {
	client twiliowa.Sender

	receipts chan models.Receipt
	inbound  chan models.InboundMessage

	mu      sync.Mutex
	stopped bool
}

// NewTwilioService creates a Twilio-backed service wrapping the given sender.
func NewTwilioService(client twiliowa.Sender) *TwilioService {
	return &TwilioService{
		client:   client,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(models.StripJIDSuffix(recipient))
}

// SendMessage sends a message through Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Start is a no-op: Twilio pushes inbound traffic to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.inbound)
	return nil
}

// Receipts returns a channel of receipt events.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Inbound returns the (never emitting) inbound channel.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

func (s *TwilioService) safeEmitReceipt(r models.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- r:
	default:
		slog.Warn("TwilioService receipts channel full, dropping receipt", "to", r.To)
	}
}
