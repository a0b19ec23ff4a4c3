// Package models defines the core data structures for CitaBot.
//
// It includes the tenant record, the canonical inbound message event,
// per-user conversation context, and the shared API response envelope.
package models

import (
	"errors"
	"regexp"
	"time"
)

// TenantStatus represents the lifecycle status of a tenant record.
type TenantStatus string

const (
	// TenantStatusActive marks a tenant that is live and routable.
	TenantStatusActive TenantStatus = "active"
	// TenantStatusDeleted marks a soft-deleted tenant. The record is kept
	// for reference but is excluded from routing.
	TenantStatusDeleted TenantStatus = "deleted"
)

// Validation constants for tenant records.
const (
	// MaxTenantNameLength defines the maximum allowed length for a tenant display name.
	MaxTenantNameLength = 200
	// MinPhoneDigits defines the minimum number of digits for a phone field.
	MinPhoneDigits = 6
)

// Error variables for better error handling and testability.
var (
	ErrTenantNotFound          = errors.New("tenant not found")
	ErrEmptyTenantCode         = errors.New("tenant code cannot be empty")
	ErrEmptyTenantName         = errors.New("tenant name cannot be empty")
	ErrEmptyAdminPhone         = errors.New("admin phone cannot be empty")
	ErrEmptyAssistantPhone     = errors.New("assistant phone cannot be empty")
	ErrEmptyAssistantID        = errors.New("assistant id cannot be empty")
	ErrTenantNameTooLong       = errors.New("tenant name exceeds maximum length")
	ErrInvalidTenantCode       = errors.New("tenant code must contain only letters, digits and underscores")
	ErrDuplicateTenantCode     = errors.New("tenant code already in use by an active tenant")
	ErrDuplicateAssistantPhone = errors.New("assistant phone already in use by an active tenant")
)

// Tenant represents one customer (clinic) instance: its admin phone used
// for command authorization, the assistant-facing phone used as the inbound
// routing key, the OpenAI assistant persona, and the bot on/off flag.
//
// Code is the short mnemonic admins type in commands ("#CLINICA01 /off");
// ID is the stable storage key.
type Tenant struct {
	ID             string       `json:"id"`
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	AdminPhone     string       `json:"admin_phone"`
	AssistantPhone string       `json:"assistant_phone"`
	AssistantID    string       `json:"assistant_id"`
	BotEnabled     bool         `json:"bot_enabled"`
	Status         TenantStatus `json:"status"`

	// Per-tenant UltraMsg instance credentials. Optional: tenants without
	// them are served by the default messaging service.
	UltraMsgToken        string `json:"ultramsg_token,omitempty"`
	UltraMsgInstanceID   string `json:"ultramsg_instance_id,omitempty"`
	UltraMsgWebhookToken string `json:"ultramsg_webhook_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// tenantCodePattern constrains codes to the shape the command parser
// recognizes.
var tenantCodePattern = regexp.MustCompile(`^\w+$`)

// Validate performs validation on a tenant record before it is persisted.
func (t *Tenant) Validate() error {
	if t.Code == "" {
		return ErrEmptyTenantCode
	}
	if !tenantCodePattern.MatchString(t.Code) {
		return ErrInvalidTenantCode
	}
	if t.Name == "" {
		return ErrEmptyTenantName
	}
	if len(t.Name) > MaxTenantNameLength {
		return ErrTenantNameTooLong
	}
	if t.AdminPhone == "" {
		return ErrEmptyAdminPhone
	}
	if t.AssistantPhone == "" {
		return ErrEmptyAssistantPhone
	}
	if t.AssistantID == "" {
		return ErrEmptyAssistantID
	}
	return nil
}

// TenantStats summarizes the registry for the stats overview endpoint.
type TenantStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// MessageKind classifies an inbound message for context bookkeeping.
type MessageKind string

const (
	// MessageKindNormal is any ordinary conversational message.
	MessageKindNormal MessageKind = "normal"
	// MessageKindConfirmation is a short acknowledgement/pleasantry.
	MessageKindConfirmation MessageKind = "confirmation"
	// MessageKindAgendaSent records that an agenda notice was sent to the user.
	MessageKindAgendaSent MessageKind = "agenda_sent"
)

// UserContext is the per-user conversation bookkeeping record.
type UserContext struct {
	LastMessageType      MessageKind `json:"last_message_type"`
	LastMessageTime      time.Time   `json:"last_message_time"`
	ConfirmationCount    int         `json:"confirmation_count"`
	AwaitingConfirmation bool        `json:"awaiting_confirmation"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery status of one outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the shared JSON envelope for all HTTP endpoints.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success builds an ok response carrying a result payload.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage builds an ok response with a human-readable message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Error builds an error response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Error: message}
}
