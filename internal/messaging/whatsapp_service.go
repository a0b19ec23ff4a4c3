package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp
// client. Inbound messages arrive over the live connection and are fed to
// the inbound channel for the router.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // nil when constructed with a mock
	selfPhone string           // assistant-facing phone, used as InboundMessage.To

	receipts chan models.Receipt
	inbound  chan models.InboundMessage

	mu      sync.Mutex
	stopped bool
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
// selfPhone is the phone the session is logged in as; it becomes the "to"
// of every inbound message so the router can resolve the tenant.
func NewWhatsAppService(client whatsapp.Sender, selfPhone string) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		selfPhone: models.StripJIDSuffix(selfPhone),
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:   make(chan models.InboundMessage, DefaultChannelBufferSize),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(models.StripJIDSuffix(recipient))
}

// Start subscribes to WhatsApp events when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
		return nil
	}
	go s.handleEvents(ctx)
	return nil
}

// Stop closes the event channels.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.inbound)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// CheckStatus reports whether the live connection is up.
func (s *WhatsAppService) CheckStatus(ctx context.Context) (string, error) {
	if s.waClient == nil {
		return "unknown", nil
	}
	if s.waClient.IsConnected() {
		return "connected", nil
	}
	return "disconnected", nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Inbound returns a channel of messages from the live connection.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// handleEvents feeds WhatsApp events into the inbound and receipt channels
// until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts a Whatsmeow message event into the
// canonical inbound shape.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	msg := models.InboundMessage{
		ID:        evt.Info.ID,
		From:      evt.Info.Sender.User,
		To:        s.selfPhone,
		Body:      text,
		Type:      "chat",
		IsGroup:   evt.Info.IsGroup,
		Timestamp: evt.Info.Timestamp.Unix(),
	}

	s.safeEmitInbound(msg)
}

// handleMessageReceipt converts delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}

	receipt := models.Receipt{
		To:     evt.MessageSource.Sender.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}

	s.safeEmitReceipt(receipt)
}

// safeEmitReceipt and safeEmitInbound hold the lock across the send so an
// event arriving during Stop can never hit a closed channel.
func (s *WhatsAppService) safeEmitReceipt(r models.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- r:
	default:
		slog.Warn("WhatsAppService receipts channel full, dropping receipt", "to", r.To)
	}
}

func (s *WhatsAppService) safeEmitInbound(msg models.InboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("WhatsAppService inbound message forwarded", "from", msg.From, "id", msg.ID)
	default:
		slog.Warn("WhatsAppService inbound channel full, dropping message", "from", msg.From)
	}
}
