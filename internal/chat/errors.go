package chat

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMissingIdentity is returned before any network call when no identity
// token is available.
var ErrMissingIdentity = errors.New("missing identity token")

// RemoteRequestError is a non-success response from the remote service.
type RemoteRequestError struct {
	Status int
	Body   string
}

// maxErrorBody is how many bytes of a response body an error message quotes.
const maxErrorBody = 200

func (e *RemoteRequestError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	return fmt.Sprintf("remote request failed with status %d: %s", e.Status, body)
}

// DomainSignalError is a success-shaped response that carries a domain
// condition instead of data, e.g. a blocked conversation.
type DomainSignalError struct {
	Signal  string
	Message string
}

func (e *DomainSignalError) Error() string {
	if e.Message == "" {
		return "remote signalled " + e.Signal
	}
	return fmt.Sprintf("remote signalled %s: %s", e.Signal, e.Message)
}

// SignalConversationBlocked is reported when the counterpart blocked the user.
const SignalConversationBlocked = "conversation_blocked"

// IsBlocked reports whether err carries the conversation-blocked signal.
func IsBlocked(err error) bool {
	var sig *DomainSignalError
	return errors.As(err, &sig) && sig.Signal == SignalConversationBlocked
}
