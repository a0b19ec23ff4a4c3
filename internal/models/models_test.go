package models

import (
	"errors"
	"strings"
	"testing"
)

func validTenant() Tenant {
	return Tenant{
		ID:             "t1",
		Code:           "CLINICA01",
		Name:           "Clinica Dental Sonrisa",
		AdminPhone:     "5215550001111",
		AssistantPhone: "5215550002222",
		AssistantID:    "asst_abc123",
	}
}

func TestTenantValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Tenant)
		want   error
	}{
		{"valid", func(*Tenant) {}, nil},
		{"empty code", func(t *Tenant) { t.Code = "" }, ErrEmptyTenantCode},
		{"code with spaces", func(t *Tenant) { t.Code = "CLINICA 01" }, ErrInvalidTenantCode},
		{"code with dash", func(t *Tenant) { t.Code = "clinica-01" }, ErrInvalidTenantCode},
		{"empty name", func(t *Tenant) { t.Name = "" }, ErrEmptyTenantName},
		{"name too long", func(t *Tenant) { t.Name = strings.Repeat("a", MaxTenantNameLength+1) }, ErrTenantNameTooLong},
		{"empty admin phone", func(t *Tenant) { t.AdminPhone = "" }, ErrEmptyAdminPhone},
		{"empty assistant phone", func(t *Tenant) { t.AssistantPhone = "" }, ErrEmptyAssistantPhone},
		{"empty assistant id", func(t *Tenant) { t.AssistantID = "" }, ErrEmptyAssistantID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tenant := validTenant()
			tc.mutate(&tenant)
			if err := tenant.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestInboundMessageIsText(t *testing.T) {
	chat := InboundMessage{Type: "chat", Body: "hola"}
	if !chat.IsText() {
		t.Error("chat message with body must be text")
	}
	if (&InboundMessage{Type: "chat"}).IsText() {
		t.Error("empty body must not be text")
	}
	if (&InboundMessage{Type: "image", Body: "caption"}).IsText() {
		t.Error("image message must not be text")
	}
	if !(&InboundMessage{Type: "text", Body: "hola"}).IsText() {
		t.Error("Meta text type must be text")
	}
}

func TestStripJIDSuffix(t *testing.T) {
	cases := map[string]string{
		"5215550009999@c.us":           "5215550009999",
		"120363042@g.us":               "120363042",
		"5215550009999@s.whatsapp.net": "5215550009999",
		"5215550009999":                "5215550009999",
	}
	for in, want := range cases {
		if got := StripJIDSuffix(in); got != want {
			t.Errorf("StripJIDSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUltraMsgNormalize(t *testing.T) {
	hook := UltraMsgWebhook{
		EventType:  "message_received",
		InstanceID: "instance90210",
		Data: &UltraMsgData{
			ID:   "m1",
			From: "5215550009999@c.us",
			To:   "5215550002222@c.us",
			Body: "hola",
			Type: "chat",
			Time: 1700000000,
		},
	}
	msg, ok := hook.Normalize()
	if !ok {
		t.Fatal("payload with a message must normalize")
	}
	if msg.ID != "m1" || msg.To != "5215550002222" || msg.Body != "hola" || msg.IsGroup {
		t.Errorf("unexpected normalization: %+v", msg)
	}

	// Missing data block is not a message.
	if _, ok := (&UltraMsgWebhook{EventType: "message_ack"}).Normalize(); ok {
		t.Error("payload without data must not normalize")
	}
}

func TestUltraMsgNormalizeGroupDetection(t *testing.T) {
	bySender := UltraMsgWebhook{Data: &UltraMsgData{ID: "m1", From: "1203@g.us", To: "5215550002222", Body: "hola", Type: "chat"}}
	if msg, _ := bySender.Normalize(); !msg.IsGroup {
		t.Error("group-domain sender must set the group flag")
	}

	byChat := UltraMsgWebhook{Data: &UltraMsgData{
		ID: "m2", From: "5215550009999@c.us", To: "5215550002222", Body: "hola", Type: "chat",
		Chat: &UltraMsgChat{ID: "1203@g.us"},
	}}
	if msg, _ := byChat.Normalize(); !msg.IsGroup {
		t.Error("group-domain chat id must set the group flag")
	}

	byFlag := UltraMsgWebhook{Data: &UltraMsgData{
		ID: "m3", From: "5215550009999@c.us", To: "5215550002222", Body: "hola", Type: "chat",
		Chat: &UltraMsgChat{IsGroup: true},
	}}
	if msg, _ := byFlag.Normalize(); !msg.IsGroup {
		t.Error("explicit chat metadata must set the group flag")
	}
}

func TestMetaNormalize(t *testing.T) {
	hook := MetaWebhook{
		Object: "whatsapp_business_account",
		Entry: []MetaEntry{{
			ID: "e1",
			Changes: []MetaChange{{
				Field: "messages",
				Value: MetaChangeValue{
					Metadata: struct {
						DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
						PhoneNumberID      string `json:"phone_number_id,omitempty"`
					}{DisplayPhoneNumber: "5215550002222"},
					Messages: []MetaMessage{{
						ID:   "wamid.1",
						From: "5215550009999",
						Type: "text",
						Text: &MetaText{Body: "hola"},
					}},
				},
			}},
		}},
	}

	msg, ok := hook.Normalize()
	if !ok {
		t.Fatal("message payload must normalize")
	}
	if msg.ID != "wamid.1" || msg.To != "5215550002222" || msg.Body != "hola" || msg.Type != "text" {
		t.Errorf("unexpected normalization: %+v", msg)
	}
}

func TestMetaNormalizeStatusChange(t *testing.T) {
	hook := MetaWebhook{
		Object: "whatsapp_business_account",
		Entry:  []MetaEntry{{ID: "e1", Changes: []MetaChange{{Field: "status"}}}},
	}
	if _, ok := hook.Normalize(); ok {
		t.Error("status-only payload must not normalize")
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	if r := Success("payload"); r.Status != APIStatusOK || r.Result != "payload" {
		t.Errorf("unexpected success envelope: %+v", r)
	}
	if r := SuccessWithMessage("done", nil); r.Message != "done" {
		t.Errorf("unexpected message envelope: %+v", r)
	}
	if r := Error("boom"); r.Status != APIStatusError || r.Error != "boom" {
		t.Errorf("unexpected error envelope: %+v", r)
	}
}
