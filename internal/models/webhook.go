// Package models: inbound webhook payload shapes and their normalization
// into the canonical InboundMessage event.
//
// All provider-specific parsing lives here; everything downstream of the
// webhook handler operates on InboundMessage only.
package models

import (
	"strings"
)

// GroupJIDSuffix is the WhatsApp JID suffix carried by group chats.
const GroupJIDSuffix = "@g.us"

// UserJIDSuffix is the WhatsApp JID suffix carried by direct chats.
const UserJIDSuffix = "@c.us"

// InboundMessage is the canonical internal event produced from any
// supported provider payload shape.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"` // sender, may carry a JID suffix
	To        string `json:"to"`   // receiving (assistant-facing) phone
	Body      string `json:"body"`
	Type      string `json:"type"` // provider message type, "chat"/"text" for text
	IsGroup   bool   `json:"is_group"`
	Timestamp int64  `json:"timestamp"`
}

// IsText reports whether the message carries renderable text content.
func (m *InboundMessage) IsText() bool {
	switch m.Type {
	case "chat", "text":
		return m.Body != ""
	default:
		return false
	}
}

// SenderPhone returns the sender identifier with any JID suffix stripped.
func (m *InboundMessage) SenderPhone() string {
	return StripJIDSuffix(m.From)
}

// StripJIDSuffix removes a provider JID suffix ("@c.us", "@g.us",
// "@s.whatsapp.net") from a phone identifier, if present.
func StripJIDSuffix(phone string) string {
	if i := strings.Index(phone, "@"); i >= 0 {
		return phone[:i]
	}
	return phone
}

// UltraMsgChat is the optional chat metadata block of an UltraMsg payload.
type UltraMsgChat struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// UltraMsgData is the message body of an UltraMsg webhook payload.
type UltraMsgData struct {
	ID     string        `json:"id"`
	From   string        `json:"from"`
	To     string        `json:"to"`
	Author string        `json:"author,omitempty"`
	Body   string        `json:"body"`
	Type   string        `json:"type"`
	Time   int64         `json:"time,omitempty"`
	Chat   *UltraMsgChat `json:"chat,omitempty"`
}

// UltraMsgWebhook is the top-level UltraMsg webhook payload.
type UltraMsgWebhook struct {
	EventType  string        `json:"event_type,omitempty"`
	InstanceID string        `json:"instanceId,omitempty"`
	Data       *UltraMsgData `json:"data,omitempty"`
}

// Normalize maps an UltraMsg payload into the canonical event. The second
// return value is false when the payload does not describe a message.
func (w *UltraMsgWebhook) Normalize() (InboundMessage, bool) {
	if w.Data == nil || w.Data.ID == "" {
		return InboundMessage{}, false
	}
	d := w.Data
	msg := InboundMessage{
		ID:        d.ID,
		From:      d.From,
		To:        StripJIDSuffix(d.To),
		Body:      d.Body,
		Type:      d.Type,
		Timestamp: d.Time,
	}
	if msg.Type == "" {
		msg.Type = "chat"
	}
	// Group detection: group-domain sender, explicit chat metadata, or a
	// group-domain chat id.
	if strings.HasSuffix(d.From, GroupJIDSuffix) {
		msg.IsGroup = true
	}
	if d.Chat != nil && (d.Chat.IsGroup || strings.HasSuffix(d.Chat.ID, GroupJIDSuffix)) {
		msg.IsGroup = true
	}
	return msg, true
}

// MetaText is the text block of a Meta Graph (WhatsApp Business) message.
type MetaText struct {
	Body string `json:"body"`
}

// MetaMessage is one message entry in a Meta Graph webhook change.
type MetaMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Type      string    `json:"type"`
	Timestamp string    `json:"timestamp,omitempty"`
	Text      *MetaText `json:"text,omitempty"`
}

// MetaChangeValue carries messages plus routing metadata.
type MetaChangeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
		PhoneNumberID      string `json:"phone_number_id,omitempty"`
	} `json:"metadata"`
	Messages []MetaMessage `json:"messages,omitempty"`
}

// MetaChange is one change entry of a Meta Graph webhook payload.
type MetaChange struct {
	Field string          `json:"field"`
	Value MetaChangeValue `json:"value"`
}

// MetaEntry is one entry of a Meta Graph webhook payload.
type MetaEntry struct {
	ID      string       `json:"id"`
	Changes []MetaChange `json:"changes,omitempty"`
}

// MetaWebhook is the top-level Meta Graph webhook payload.
type MetaWebhook struct {
	Object string      `json:"object"`
	Entry  []MetaEntry `json:"entry,omitempty"`
}

// Normalize maps the first message of a Meta Graph payload into the
// canonical event. Status-only changes normalize to false.
func (w *MetaWebhook) Normalize() (InboundMessage, bool) {
	if w.Object != "whatsapp_business_account" || len(w.Entry) == 0 {
		return InboundMessage{}, false
	}
	for _, entry := range w.Entry {
		for _, change := range entry.Changes {
			if change.Field == "status" || len(change.Value.Messages) == 0 {
				continue
			}
			m := change.Value.Messages[0]
			msg := InboundMessage{
				ID:   m.ID,
				From: m.From,
				To:   change.Value.Metadata.DisplayPhoneNumber,
				Type: m.Type,
			}
			if msg.To == "" {
				msg.To = change.Value.Metadata.PhoneNumberID
			}
			if m.Text != nil {
				msg.Body = m.Text.Body
			}
			return msg, true
		}
	}
	return InboundMessage{}, false
}
