package runtime

// turnState tracks where a turn is in its lifecycle. Transitions are
// driven only by the turn's own goroutine; readers see the value through
// bus events.
type turnState string

const (
	stateIdle               turnState = "idle"
	stateComposing          turnState = "composing"
	stateStreaming          turnState = "streaming"
	stateAwaitingTool       turnState = "awaiting_tool"
	stateAwaitingPermission turnState = "awaiting_permission"
	stateRetrying           turnState = "retrying"
	stateCompacting         turnState = "compacting"
	stateFinalizing         turnState = "finalizing"
	stateDone               turnState = "done"
	stateFailed             turnState = "failed"
	stateAborted            turnState = "aborted"
)

// terminal reports whether the state ends the turn.
func (s turnState) terminal() bool {
	switch s {
	case stateDone, stateFailed, stateAborted:
		return true
	}
	return false
}
