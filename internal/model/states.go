package model

// DisplayState is the closed vocabulary of human-facing device states.
// Drivers must map vendor states onto these values; anything else is a
// parse bug, not a new state.
type DisplayState string

const (
	StateOn                DisplayState = "ON"
	StateOff               DisplayState = "OFF"
	StateOpen              DisplayState = "OPEN"
	StateClosed            DisplayState = "CLOSED"
	StateLocked            DisplayState = "LOCKED"
	StateUnlocked          DisplayState = "UNLOCKED"
	StateJammed            DisplayState = "JAMMED"
	StateMotionDetected    DisplayState = "MOTION_DETECTED"
	StateNoMotion          DisplayState = "NO_MOTION"
	StateLeakDetected      DisplayState = "LEAK_DETECTED"
	StateDry               DisplayState = "DRY"
	StateVibrationDetected DisplayState = "VIBRATION_DETECTED"
	StateNoVibration       DisplayState = "NO_VIBRATION"
	StateSmokeDetected     DisplayState = "SMOKE_DETECTED"
	StateCODetected        DisplayState = "CO_DETECTED"
	StatePressed           DisplayState = "PRESSED"
	StateTriggered         DisplayState = "TRIGGERED"
	StateClear             DisplayState = "CLEAR"
	StateOnline            DisplayState = "ONLINE"
	StateOffline           DisplayState = "OFFLINE"
)

var validDisplayStates = map[DisplayState]struct{}{
	StateOn: {}, StateOff: {}, StateOpen: {}, StateClosed: {},
	StateLocked: {}, StateUnlocked: {}, StateJammed: {},
	StateMotionDetected: {}, StateNoMotion: {}, StateLeakDetected: {},
	StateDry: {}, StateVibrationDetected: {}, StateNoVibration: {},
	StateSmokeDetected: {}, StateCODetected: {}, StatePressed: {},
	StateTriggered: {}, StateClear: {}, StateOnline: {}, StateOffline: {},
}

func (s DisplayState) Valid() bool {
	_, ok := validDisplayStates[s]
	return ok
}

// ActionableState is the closed vocabulary of outbound device commands.
type ActionableState string

const (
	CommandOn       ActionableState = "ON"
	CommandOff      ActionableState = "OFF"
	CommandLock     ActionableState = "LOCK"
	CommandUnlock   ActionableState = "UNLOCK"
	CommandSirenOn  ActionableState = "SIREN_ON"
	CommandSirenOff ActionableState = "SIREN_OFF"
)

var validActionableStates = map[ActionableState]struct{}{
	CommandOn: {}, CommandOff: {}, CommandLock: {}, CommandUnlock: {},
	CommandSirenOn: {}, CommandSirenOff: {},
}

func (s ActionableState) Valid() bool {
	_, ok := validActionableStates[s]
	return ok
}

// ArmedState is the Area arming state machine vocabulary.
type ArmedState string

const (
	Disarmed  ArmedState = "DISARMED"
	ArmedAway ArmedState = "ARMED_AWAY"
	ArmedStay ArmedState = "ARMED_STAY"
	Triggered ArmedState = "TRIGGERED"
)

func (s ArmedState) Valid() bool {
	switch s {
	case Disarmed, ArmedAway, ArmedStay, Triggered:
		return true
	}
	return false
}

// Armed reports whether the state counts as armed for scheduling purposes.
func (s ArmedState) Armed() bool {
	return s == ArmedAway || s == ArmedStay
}

// ArmedStateReason records why an area changed armed state.
type ArmedStateReason string

const (
	ReasonUserAction       ArmedStateReason = "user_action"
	ReasonAutomationArm    ArmedStateReason = "automation_arm"
	ReasonAutomationDisarm ArmedStateReason = "automation_disarm"
	ReasonSchedule         ArmedStateReason = "schedule"
	ReasonEventTriggered   ArmedStateReason = "event_triggered"
)

// SessionState is the connector session lifecycle vocabulary.
type SessionState string

const (
	SessionDisabled     SessionState = "DISABLED"
	SessionConnecting   SessionState = "CONNECTING"
	SessionConnected    SessionState = "CONNECTED"
	SessionReconnecting SessionState = "RECONNECTING"
	SessionFailed       SessionState = "FAILED"
)
