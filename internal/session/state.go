package session

// State is the stage a refresh flow is in.
type State uint8

const (
	StateInitial State = iota
	StateRefreshing
	StateSuccess
	StateIncorrectLogin
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRefreshing:
		return "refreshing"
	case StateSuccess:
		return "success"
	case StateIncorrectLogin:
		return "incorrect-login"
	}
	return ""
}

// ControlsDisabled reports whether input should be blocked while in s.
func (s State) ControlsDisabled() bool {
	switch s {
	case StateRefreshing, StateSuccess:
		return true
	}
	return false
}

// Field is an input the flow wants focused.
type Field uint8

const (
	FieldNone Field = iota
	FieldPassword
	FieldOneTimeCode
)

func (f Field) String() string {
	switch f {
	case FieldPassword:
		return "password"
	case FieldOneTimeCode:
		return "one-time-code"
	}
	return "none"
}

// Signal is feedback for the user that does not change the flow's state.
type Signal uint8

const (
	SignalSuccess Signal = iota + 1
	SignalFailure
)

func (s Signal) String() string {
	switch s {
	case SignalSuccess:
		return "success"
	case SignalFailure:
		return "failure"
	}
	return ""
}

// Notifier receives success and failure signals.
type Notifier interface {
	Notify(Signal)
}

type NotifierFunc func(Signal)

func (fn NotifierFunc) Notify(s Signal) { fn(s) }
