package messaging

import (
	"context"
	"testing"

	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/whatsapp"
)

func TestWhatsAppServiceSendMessageCanonicalizes(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock, "5215550002222")

	if err := svc.SendMessage(context.Background(), "+52 1 555 000 1111", "hola"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.Sent) != 1 || mock.Sent[0].To != "5215550001111" {
		t.Errorf("recipient not canonicalized: %+v", mock.Sent)
	}

	select {
	case r := <-svc.Receipts():
		if r.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt status: %s", r.Status)
		}
	default:
		t.Error("expected a sent receipt")
	}
}

func TestWhatsAppServiceRejectsInvalidRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), "5215550002222")

	if _, err := svc.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := svc.ValidateAndCanonicalizeRecipient("sin-numeros"); err == nil {
		t.Error("expected error for recipient without digits")
	}
	if _, err := svc.ValidateAndCanonicalizeRecipient("12345"); err == nil {
		t.Error("expected error for too-short recipient")
	}
}

func TestWhatsAppServiceStopIsIdempotent(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), "5215550002222")
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestWhatsAppServiceEmitAfterStopIsDropped(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), "5215550002222")
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Events racing shutdown must be dropped, never sent on a closed channel.
	svc.safeEmitInbound(models.InboundMessage{ID: "m1", From: "5215550009999", Body: "hola", Type: "chat"})
	svc.safeEmitReceipt(models.Receipt{To: "5215550009999", Status: models.MessageStatusDelivered})

	if _, ok := <-svc.Inbound(); ok {
		t.Error("inbound channel delivered after Stop")
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("receipts channel delivered after Stop")
	}
}
