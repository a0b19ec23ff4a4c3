// Package commands interprets admin control messages of the form
// "#CODE /command" sent over the same WhatsApp channel as normal traffic.
//
// Commands act on one tenant, addressed by its code. Mutating commands
// require the sender to be that tenant's admin phone; /help and /info are
// open to anyone.
package commands

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/tenants"
)

// commandPattern extracts the tenant code and the command verb.
var commandPattern = regexp.MustCompile(`#(\w+)\s+(/\w+)`)

// definition describes one supported command verb.
type definition struct {
	description  string
	requiresAuth bool
}

// definitions is keyed by verb; order holds the /help listing order.
var definitions = map[string]definition{
	"/off":     {description: "Apagar bot", requiresAuth: true},
	"/on":      {description: "Encender bot", requiresAuth: true},
	"/status":  {description: "Ver estado del bot", requiresAuth: true},
	"/restart": {description: "Reiniciar bot", requiresAuth: true},
	"/help":    {description: "Ver comandos disponibles", requiresAuth: false},
	"/info":    {description: "Información del consultorio", requiresAuth: false},
}

var order = []string{"/off", "/on", "/status", "/restart", "/help", "/info"}

// Result is the outcome of interpreting one message.
type Result struct {
	IsCommand  bool
	Response   string
	TenantCode string
	Command    string
}

// Interpreter executes admin commands against the tenant directory.
type Interpreter struct {
	directory *tenants.Directory
}

// NewInterpreter creates a command interpreter.
func NewInterpreter(directory *tenants.Directory) *Interpreter {
	return &Interpreter{directory: directory}
}

// IsCommand reports whether a message looks like a command attempt: it
// mentions both a '#' tenant marker and a '/' verb marker. Malformed
// attempts still count so they get a usage reply instead of reaching the
// assistant.
func IsCommand(text string) bool {
	return text != "" && strings.Contains(text, "#") && strings.Contains(text, "/")
}

// Parse extracts the tenant code and command verb from a message.
func Parse(text string) (code, command string, ok bool) {
	m := commandPattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Process interprets a message from the given sender. Non-commands return
// Result{IsCommand: false}; every command attempt produces a response,
// including malformed or unauthorized ones.
func (i *Interpreter) Process(text, from string) Result {
	if !IsCommand(text) {
		return Result{}
	}

	code, command, ok := Parse(text)
	if !ok {
		return Result{
			IsCommand: true,
			Response:  "❌ Formato de comando incorrecto.\nUso: #CLINICA01 /comando",
		}
	}

	tenant, err := i.directory.GetByCode(code)
	if err != nil {
		return Result{
			IsCommand:  true,
			TenantCode: code,
			Command:    command,
			Response:   fmt.Sprintf("❌ Cliente no encontrado: %s\nVerifica el código del cliente.", code),
		}
	}

	slog.Info("Commands.Process: executing", "code", code, "command", command, "from", models.StripJIDSuffix(from))
	return Result{
		IsCommand:  true,
		TenantCode: code,
		Command:    command,
		Response:   i.execute(tenant, command, from),
	}
}

func (i *Interpreter) execute(tenant *models.Tenant, command, from string) string {
	def, known := definitions[command]
	if !known {
		return fmt.Sprintf("❌ Comando no reconocido: %s\nEscribe #%s /help para ver comandos disponibles.", command, tenant.Code)
	}

	if def.requiresAuth && !i.isAuthorized(tenant, from) {
		return fmt.Sprintf("❌ No autorizado para controlar el bot de %s.\nSolo el número %s puede ejecutar este comando.",
			tenant.Name, tenant.AdminPhone)
	}

	switch command {
	case "/off":
		if _, err := i.directory.SetBotEnabled(tenant.ID, false); err != nil {
			slog.Error("Commands.execute: disable failed", "error", err, "tenant", tenant.ID)
			return "❌ Error al apagar el bot. Intenta de nuevo."
		}
		return fmt.Sprintf("🤖 Bot de %s APAGADO\nYa no responderá a mensajes normales.", tenant.Name)

	case "/on":
		if _, err := i.directory.SetBotEnabled(tenant.ID, true); err != nil {
			slog.Error("Commands.execute: enable failed", "error", err, "tenant", tenant.ID)
			return "❌ Error al encender el bot. Intenta de nuevo."
		}
		return fmt.Sprintf("🤖 Bot de %s ENCENDIDO\nRespondiendo normalmente.", tenant.Name)

	case "/status":
		return fmt.Sprintf("📊 Estado del bot de %s:\n%s\nAsistente: %s",
			tenant.Name, statusText(tenant.BotEnabled), tenant.AssistantID)

	// Restart only re-enables the bot. Conversation threads span every
	// tenant and are cleared exclusively through the reset endpoint.
	case "/restart":
		if _, err := i.directory.SetBotEnabled(tenant.ID, true); err != nil {
			slog.Error("Commands.execute: restart failed", "error", err, "tenant", tenant.ID)
			return "❌ Error al reiniciar el bot. Intenta de nuevo."
		}
		return fmt.Sprintf("🔄 Bot de %s REINICIADO\nEstado: ACTIVO", tenant.Name)

	case "/help":
		return helpMessage(tenant)

	case "/info":
		return infoMessage(tenant)
	}

	return fmt.Sprintf("❌ Acción no implementada: %s", command)
}

// isAuthorized compares sender and admin phone with JID suffixes stripped.
func (i *Interpreter) isAuthorized(tenant *models.Tenant, from string) bool {
	return models.StripJIDSuffix(from) == models.StripJIDSuffix(tenant.AdminPhone)
}

func statusText(enabled bool) string {
	if enabled {
		return "🟢 ACTIVO"
	}
	return "🔴 INACTIVO"
}

func helpMessage(tenant *models.Tenant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Comandos disponibles para %s:\n\n", tenant.Name)
	for _, cmd := range order {
		def := definitions[cmd]
		suffix := ""
		if def.requiresAuth {
			suffix = " (Solo autorizados)"
		}
		fmt.Fprintf(&b, "%s - %s%s\n", cmd, def.description, suffix)
	}
	fmt.Fprintf(&b, "\n💡 Uso: #%s /comando", tenant.Code)
	return b.String()
}

func infoMessage(tenant *models.Tenant) string {
	return fmt.Sprintf("🏥 Información de %s:\n\n📞 Número: %s\n🤖 Asistente: %s\n📊 Estado: %s\n🔑 Código: %s",
		tenant.Name, tenant.AssistantPhone, tenant.AssistantID, statusText(tenant.BotEnabled), tenant.Code)
}
