package domain

type SessionState string

const (
	SessionLaunching SessionState = "launching"
	SessionReady     SessionState = "ready"
	SessionClosing   SessionState = "closing"
	SessionClosed    SessionState = "closed"
	SessionFailed    SessionState = "failed"
)

// CanTransition reports whether a session may move from its current state
// to next. Failed is reachable only while launching or closing; Closed is
// terminal except that Release treats it as idempotent.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case SessionLaunching:
		return next == SessionReady || next == SessionFailed
	case SessionReady:
		return next == SessionClosing || next == SessionClosed
	case SessionClosing:
		return next == SessionClosed || next == SessionFailed
	default:
		return false
	}
}

func (s SessionState) Terminal() bool {
	return s == SessionClosed || s == SessionFailed
}
