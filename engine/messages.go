package engine

import (
	"fmt"
	"strings"

	"github.com/lexmesh/lexmesh/core"
)

type messageKey int

const (
	msgDisabled messageKey = iota
	msgTimeout
	msgIterationLimit
	msgEscalated
	msgEmptyAnswer
	msgCancelled
	msgAuth
	msgOverloaded
	msgUnreachable
	msgProviderTimeout
	msgProviderInternal
	msgInternal
)

var catalog = map[string]map[messageKey]string{
	"en": {
		msgDisabled:         "The agent %s is currently disabled.",
		msgTimeout:          "The agent %s ran out of time before finishing. Partial progress was saved.",
		msgIterationLimit:   "The agent %s reached its step limit without a final answer.",
		msgEscalated:        "The agent %s needs human approval before continuing. An approver has been notified.",
		msgEmptyAnswer:      "The agent %s finished without a written answer.",
		msgCancelled:        "The request to agent %s was cancelled.",
		msgAuth:             "The agent %s cannot reach its language model because the provider credentials are not configured correctly.",
		msgOverloaded:       "The language model used by agent %s is busy right now. Please try again in a moment.",
		msgUnreachable:      "The language model used by agent %s could not be reached.",
		msgProviderTimeout:  "The language model used by agent %s did not respond in time.",
		msgProviderInternal: "The language model used by agent %s reported an error.",
		msgInternal:         "The agent %s ran into an internal problem.",
	},
	"de": {
		msgDisabled:         "Der Agent %s ist derzeit deaktiviert.",
		msgTimeout:          "Der Agent %s hat das Zeitlimit erreicht. Der bisherige Fortschritt wurde gespeichert.",
		msgIterationLimit:   "Der Agent %s hat sein Schrittlimit ohne abschließende Antwort erreicht.",
		msgEscalated:        "Der Agent %s benötigt eine Freigabe. Die zuständige Person wurde benachrichtigt.",
		msgEmptyAnswer:      "Der Agent %s hat ohne schriftliche Antwort abgeschlossen.",
		msgCancelled:        "Die Anfrage an den Agenten %s wurde abgebrochen.",
		msgAuth:             "Der Agent %s kann sein Sprachmodell nicht erreichen, da die Zugangsdaten falsch konfiguriert sind.",
		msgOverloaded:       "Das Sprachmodell des Agenten %s ist gerade ausgelastet. Bitte versuchen Sie es gleich erneut.",
		msgUnreachable:      "Das Sprachmodell des Agenten %s ist nicht erreichbar.",
		msgProviderTimeout:  "Das Sprachmodell des Agenten %s hat nicht rechtzeitig geantwortet.",
		msgProviderInternal: "Das Sprachmodell des Agenten %s hat einen Fehler gemeldet.",
		msgInternal:         "Beim Agenten %s ist ein interner Fehler aufgetreten.",
	},
}

// Languages lists the supported message languages.
func Languages() []string { return []string{"en", "de"} }

// text renders a localized message, falling back to English.
func text(lang string, key messageKey, agentName string) string {
	msgs, ok := catalog[strings.ToLower(lang)]
	if !ok {
		msgs = catalog["en"]
	}

	return fmt.Sprintf(msgs[key], agentName)
}

func errorMessageKey(kind core.ErrorKind) messageKey {
	switch kind {
	case core.ErrorAuthMisconfigured:
		return msgAuth
	case core.ErrorProviderOverload:
		return msgOverloaded
	case core.ErrorProviderUnreach:
		return msgUnreachable
	case core.ErrorProviderTimeout:
		return msgProviderTimeout
	case core.ErrorProviderInternal:
		return msgProviderInternal
	default:
		return msgInternal
	}
}
