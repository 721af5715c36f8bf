package bus

import (
	"fmt"
	"strings"
)

type messageKey int

const (
	msgDepthExceeded messageKey = iota
	msgRoleUnavailable
)

var catalog = map[string]map[messageKey]string{
	"en": {
		msgDepthExceeded:   "The conversation reached the limit of %v messages and was stopped.",
		msgRoleUnavailable: "No active agent is configured for the role %v.",
	},
	"de": {
		msgDepthExceeded:   "Die Unterhaltung hat das Limit von %v Nachrichten erreicht und wurde beendet.",
		msgRoleUnavailable: "Für die Rolle %v ist kein aktiver Agent eingerichtet.",
	},
}

// text renders a localized message, falling back to English.
func text(lang string, key messageKey, arg any) string {
	msgs, ok := catalog[strings.ToLower(lang)]
	if !ok {
		msgs = catalog["en"]
	}

	return fmt.Sprintf(msgs[key], arg)
}
