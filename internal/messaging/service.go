// Package messaging provides the pluggable outbound transport layer: the
// UltraMsg REST gateway, the live Whatsmeow client, and Twilio, all behind
// one Service interface.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/citabot/citabot/internal/models"
)

// DefaultChannelBufferSize defines the default buffer size for receipt and inbound channels
const DefaultChannelBufferSize = 100

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Each transport applies its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Inbound returns a channel of messages arriving over the transport's
	// own connection. Webhook-fed transports never emit here.
	Inbound() <-chan models.InboundMessage
}

// StatusChecker is implemented by transports that can probe their upstream
// connection state.
type StatusChecker interface {
	CheckStatus(ctx context.Context) (string, error)
}

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// canonicalizePhone removes all non-numeric characters and validates the
// result has at least 6 digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < models.MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, models.MinPhoneDigits)
	}

	if canonical != recipient {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
