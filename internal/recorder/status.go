package recorder

import "fmt"

// State is the coarse recorder state.
type State int

const (
	Stopped State = iota
	Recording
	Paused
	Warning
	Error
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "stopped"
	}
}

// PauseReason records why a session was paused.
type PauseReason int

const (
	PauseUser PauseReason = iota
	PauseAudioFocusLoss
	PausePhoneCall
	PauseProcessRestart
)

func (r PauseReason) String() string {
	switch r {
	case PauseAudioFocusLoss:
		return "audio_focus_loss"
	case PausePhoneCall:
		return "phone_call"
	case PauseProcessRestart:
		return "process_restart"
	default:
		return "user"
	}
}

// ParsePauseReason maps a reason name to a PauseReason. Empty means PauseUser.
func ParsePauseReason(s string) (PauseReason, error) {
	switch s {
	case "", "user":
		return PauseUser, nil
	case "audio_focus_loss":
		return PauseAudioFocusLoss, nil
	case "phone_call":
		return PausePhoneCall, nil
	case "process_restart":
		return PauseProcessRestart, nil
	}
	return PauseUser, fmt.Errorf("unknown pause reason %q", s)
}

// Status is the observable recorder status. PauseReason is meaningful only
// when State is Paused and Message only for Warning and Error.
type Status struct {
	State       State
	PauseReason PauseReason
	Message     string
}

// SilenceWarningMessage is reported while the silence warning is active.
const SilenceWarningMessage = "No audio detected - Check microphone."

func StatusStopped() Status   { return Status{State: Stopped} }
func StatusRecording() Status { return Status{State: Recording} }

func StatusPaused(reason PauseReason) Status {
	return Status{State: Paused, PauseReason: reason}
}

func StatusWarning(msg string) Status { return Status{State: Warning, Message: msg} }
func StatusError(msg string) Status   { return Status{State: Error, Message: msg} }

// Active reports whether audio should be flowing in this status.
func (s Status) Active() bool {
	return s.State == Recording || s.State == Warning
}

func (s Status) String() string {
	switch s.State {
	case Paused:
		return fmt.Sprintf("paused(%s)", s.PauseReason)
	case Warning, Error:
		return fmt.Sprintf("%s(%s)", s.State, s.Message)
	default:
		return s.State.String()
	}
}
