package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyConnected is returned by Connect when the server already has a
// live session. Use the session or Disconnect first.
var ErrAlreadyConnected = errors.New("upstream: server already connected")

// UnknownServerError reports an operation against an id with no state record.
type UnknownServerError struct {
	ServerID string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("upstream: unknown server %q", e.ServerID)
}

// NotConnectedError reports an operation against a known server whose session
// is absent after an explicit disconnect.
type NotConnectedError struct {
	ServerID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("upstream: server %q not connected", e.ServerID)
}

// ToolExecutionError reports a tool call that succeeded at the RPC layer but
// whose result carried the protocol-level error flag. Text is the
// server-provided error content.
type ToolExecutionError struct {
	ServerID string
	ToolName string
	Text     string
}

func (e *ToolExecutionError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("upstream: tool %q on server %q failed", e.ToolName, e.ServerID)
	}
	return fmt.Sprintf("upstream: tool %q on server %q failed: %s", e.ToolName, e.ServerID, e.Text)
}

// ElicitationRequiredError is returned to the server when an elicitation
// request arrives and no handler or callback is registered. The request stays
// parked under RequestID so an out-of-band responder can resolve it via
// RespondToElicitation.
type ElicitationRequiredError struct {
	ServerID  string
	RequestID string
	Message   string
	Schema    any
}

func (e *ElicitationRequiredError) Error() string {
	return fmt.Sprintf("upstream: elicitation %s from server %q requires a response: %s", e.RequestID, e.ServerID, e.Message)
}

// methodUnavailableIndicators are the substrings that mark a protocol error as
// "server does not implement this method". Matching any indicator treats the
// whole error as method-unavailable regardless of which method failed; this is
// deliberately permissive and kept for compatibility even though an unrelated
// error containing an indicator phrase would be masked.
var methodUnavailableIndicators = []string{
	"method not found",
	"not implemented",
	"unsupported",
	"does not support",
	"unimplemented",
}

func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, indicator := range methodUnavailableIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
