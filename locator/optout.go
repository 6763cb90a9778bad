package locator

import "strings"

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

const optOutCommand = "/stop"

// HasOptOut reports whether any inbound message is the opt-out command.
// Only the exact body "/STOP" (case-insensitive, surrounding whitespace
// trimmed) counts; a /STOP embedded in a longer sentence does not. Outbound
// messages are never inspected so our own replies cannot trigger it.
func HasOptOut(msgs []Message) bool {
	for _, m := range msgs {
		if m.Direction != DirectionIncoming {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(m.Body), optOutCommand) {
			return true
		}
	}
	return false
}
