package delivery

import "sync"

// VoiceState is the single interface-facing mode of the session. Exactly one
// state is active at a time and transitions are the only legal mutator.
type VoiceState string

const (
	StateIdle       VoiceState = "idle"
	StateConnecting VoiceState = "connecting"
	StateListening  VoiceState = "listening"
	StateThinking   VoiceState = "thinking"
	StateSpeaking   VoiceState = "speaking"
)

// voiceStates tracks the current state and an optional follow-up route that
// replaces the usual speaking-to-idle landing (e.g. an assessment step).
type voiceStates struct {
	mu sync.Mutex

	current  VoiceState
	followUp func()
	onChange func(VoiceState)
}

func newVoiceStates(onChange func(VoiceState)) *voiceStates {
	if onChange == nil {
		onChange = func(VoiceState) {}
	}
	return &voiceStates{current: StateIdle, onChange: onChange}
}

func (v *voiceStates) Current() VoiceState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// set forces a transition. The change callback fires outside the lock and
// only on an actual change.
func (v *voiceStates) set(to VoiceState) {
	v.mu.Lock()
	changed := v.current != to
	v.current = to
	onChange := v.onChange
	v.mu.Unlock()

	if changed {
		onChange(to)
	}
}

// setFromCapture applies a capture-side update (idle or listening). Updates
// are ignored while the session is thinking or speaking so a response in
// flight never flickers back to capture states.
func (v *voiceStates) setFromCapture(to VoiceState) bool {
	if to != StateIdle && to != StateListening {
		return false
	}

	v.mu.Lock()
	if v.current == StateThinking || v.current == StateSpeaking {
		v.mu.Unlock()
		return false
	}
	changed := v.current != to
	v.current = to
	onChange := v.onChange
	v.mu.Unlock()

	if changed {
		onChange(to)
	}
	return true
}

// scheduleFollowUp routes the next playback completion somewhere other than
// idle. Consumed by the first landing after it is set.
func (v *voiceStates) scheduleFollowUp(followUp func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.followUp = followUp
}

// land completes the speaking phase: the follow-up route wins when one is
// pending, otherwise the session returns to idle.
func (v *voiceStates) land() {
	v.mu.Lock()
	followUp := v.followUp
	v.followUp = nil
	changed := v.current != StateIdle
	if followUp == nil {
		v.current = StateIdle
	}
	onChange := v.onChange
	v.mu.Unlock()

	if followUp != nil {
		followUp()
		return
	}
	if changed {
		onChange(StateIdle)
	}
}
