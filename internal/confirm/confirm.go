// Package confirm detects short acknowledgement/pleasantry messages so the
// router can answer them with a canned reply instead of a full assistant
// round-trip.
package confirm

import (
	"regexp"
	"strings"
)

// Reply is the canned acknowledgement sent when a confirmation arrives
// while the user is awaiting one.
const Reply = "¡Perfecto! Me alegra saber que todo está bien. Si necesitas algo más, no dudes en preguntarme. 😊"

// shortMessageLimit bounds the heuristic fallback: messages shorter than
// this with few tokens and a confirmation word still count as confirmations.
const shortMessageLimit = 10

// patterns is the allow-list of full-message confirmation phrases.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(muy bien|perfecto|ok|okay|vale|genial|excelente|gracias|thank you|thanks)$`),
	regexp.MustCompile(`(?i)^(muy bien gracias|perfecto gracias|ok gracias|vale gracias|genial gracias|excelente gracias)$`),
	regexp.MustCompile(`(?i)^(está bien|esta bien|está perfecto|esta perfecto)$`),
	regexp.MustCompile(`(?i)^(confirmado|confirmo|acepto|aceptado)$`),
	regexp.MustCompile(`^(👍|✅|👌|😊|🙏)$`),
	regexp.MustCompile(`(?i)^(si|sí|yes|yep|yeah|claro|por supuesto)$`),
}

// confirmationWords feeds the short-message heuristic.
var confirmationWords = map[string]bool{
	"bien":     true,
	"ok":       true,
	"vale":     true,
	"si":       true,
	"sí":       true,
	"yes":      true,
	"gracias":  true,
	"thanks":   true,
	"perfecto": true,
}

// IsConfirmation reports whether the message is a confirmation/pleasantry.
// It is pure and deterministic: normalize, match the allow-list, then fall
// back to the short-message heuristic.
func IsConfirmation(text string) bool {
	clean := strings.ToLower(strings.TrimSpace(text))
	if clean == "" {
		return false
	}

	for _, p := range patterns {
		if p.MatchString(clean) {
			return true
		}
	}

	// Short messages with at most 3 tokens count as confirmations when at
	// least one token is a known confirmation word.
	if len(clean) < shortMessageLimit {
		words := strings.Fields(clean)
		if len(words) <= 3 {
			for _, w := range words {
				if confirmationWords[w] {
					return true
				}
			}
		}
	}

	return false
}
