// Package voice drives the listening/speaking session state machine:
// push-to-talk capture, always-on wake-word listening, silence
// timeout, and interruption handling.
package voice

import (
	"strings"
	"sync"
	"time"

	"github.com/agentlee/agentlee/pkg/logger"
)

// State is the externally visible agent state. It drives the avatar
// and the capture watcher alike.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
)

// Handlers is the four-callback recognizer contract. Implementations
// must emit OnEnd after every OnError.
type Handlers struct {
	OnStart  func()
	OnResult func(transcript string, final bool)
	OnError  func(code string)
	OnEnd    func()
}

// Recognizer is the speech-to-text seam.
type Recognizer interface {
	Start() error
	Stop()
	SetHandlers(Handlers)
}

// Speaker is the text-to-speech seam. OnDone is the synchronization
// point for everything sequenced after speech.
type Speaker interface {
	Speak(text string, onDone func())
	Cancel()
}

// Options configures a Session. Durations are injectable so tests can
// shrink them.
type Options struct {
	WakePhrases      []string
	Greeting         string
	SilenceTimeout   time.Duration
	WakeFollowWindow time.Duration
	Speaker          Speaker
	// OnSubmit receives each finalized transcript to hand off to the
	// agent loop.
	OnSubmit func(transcript string)
	// OnStateChange observes every state transition.
	OnStateChange func(State)
	// OnInlineError surfaces recognition errors other than no-speech.
	OnInlineError func(code string)
}

// Session is the voice session state machine. All mutation funnels
// through the recognizer callbacks and the exported methods; OnEnd is
// the single place session flags are cleared.
type Session struct {
	rec     Recognizer
	speaker Speaker

	wakePhrases      []string
	greeting         string
	silenceTimeout   time.Duration
	wakeFollowWindow time.Duration

	onSubmit      func(string)
	onStateChange func(State)
	onInlineError func(string)

	mu            sync.Mutex
	state         State
	disabled      bool
	pttActive     bool
	alwaysOn      bool
	wakeActive    bool
	capturing     bool
	transcript    string
	silenceTimer  *time.Timer
	wakeTimer     *time.Timer
	lastUtterance string
	interrupted   string
	hasInterrupt  bool
}

// NewSession wires a session over the recognizer. A nil recognizer
// disables voice input permanently; everything else stays functional.
func NewSession(rec Recognizer, opts Options) *Session {
	s := &Session{
		rec:              rec,
		speaker:          opts.Speaker,
		wakePhrases:      opts.WakePhrases,
		greeting:         opts.Greeting,
		silenceTimeout:   opts.SilenceTimeout,
		wakeFollowWindow: opts.WakeFollowWindow,
		onSubmit:         opts.OnSubmit,
		onStateChange:    opts.OnStateChange,
		onInlineError:    opts.OnInlineError,
		state:            StateIdle,
	}
	if s.silenceTimeout <= 0 {
		s.silenceTimeout = 6 * time.Second
	}
	if s.wakeFollowWindow <= 0 {
		s.wakeFollowWindow = 8 * time.Second
	}
	if s.greeting == "" {
		s.greeting = "Yes? I'm listening."
	}
	if rec == nil {
		s.disabled = true
		logger.WarnC("voice", "speech recognition unavailable, voice input disabled")
		return s
	}
	rec.SetHandlers(Handlers{
		OnResult: s.handleResult,
		OnError:  s.handleError,
		OnEnd:    s.handleEnd,
	})
	return s
}

// Disabled reports whether voice input was disabled at construction.
func (s *Session) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// State returns the current agent state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.onStateChange != nil {
		cb := s.onStateChange
		go cb(st)
	}
}

// StartPushToTalk begins a push-to-talk capture. Refused while any
// capture is already running. Starting while the agent is speaking
// first interrupts the speech.
func (s *Session) StartPushToTalk() bool {
	s.mu.Lock()
	if s.disabled || s.capturing || s.pttActive {
		s.mu.Unlock()
		return false
	}
	if s.state == StateSpeaking {
		s.captureInterruptionLocked()
	}
	s.pttActive = true
	s.transcript = ""
	s.capturing = true
	s.setStateLocked(StateListening)
	s.armSilenceTimerLocked()
	s.mu.Unlock()

	if s.speaker != nil {
		s.speaker.Cancel()
	}
	if err := s.rec.Start(); err != nil {
		s.mu.Lock()
		s.pttActive = false
		s.capturing = false
		s.clearSilenceTimerLocked()
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		logger.WarnCF("voice", "capture start failed", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return true
}

// FinalizePushToTalk stops capture; the transcript submits when the
// recognizer's end event arrives.
func (s *Session) FinalizePushToTalk() {
	s.mu.Lock()
	active := s.pttActive
	s.clearSilenceTimerLocked()
	s.mu.Unlock()
	if active {
		s.rec.Stop()
	}
}

// SetAlwaysOn toggles hands-free listening. The watcher restarts
// capture whenever always-on holds and the agent is idle.
func (s *Session) SetAlwaysOn(on bool) {
	s.mu.Lock()
	if s.disabled || s.alwaysOn == on {
		s.mu.Unlock()
		return
	}
	s.alwaysOn = on
	if !on {
		s.wakeActive = false
		s.clearWakeTimerLocked()
		capturing := s.capturing
		s.mu.Unlock()
		if capturing {
			s.rec.Stop()
		}
		return
	}
	// Toggling listening on mid-speech is an interruption, same as
	// push-to-talk: capture the utterance, cut synthesis, start over.
	if s.state == StateSpeaking {
		s.captureInterruptionLocked()
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		if s.speaker != nil {
			s.speaker.Cancel()
		}
		s.maybeRestartCapture()
		return
	}
	s.mu.Unlock()
	s.maybeRestartCapture()
}

// AlwaysOn reports the hands-free toggle.
func (s *Session) AlwaysOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alwaysOn
}

// maybeRestartCapture is the sole always-on restart path.
func (s *Session) maybeRestartCapture() {
	s.mu.Lock()
	if s.disabled || !s.alwaysOn || s.capturing || s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.capturing = true
	s.transcript = ""
	s.setStateLocked(StateListening)
	s.mu.Unlock()

	if err := s.rec.Start(); err != nil {
		s.mu.Lock()
		s.capturing = false
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		logger.WarnCF("voice", "always-on restart failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Session) handleResult(transcript string, final bool) {
	s.mu.Lock()
	if s.pttActive {
		// Fresh speech pushes the silence deadline out.
		s.armSilenceTimerLocked()
		if final {
			s.appendTranscriptLocked(transcript)
		}
		s.mu.Unlock()
		return
	}

	if !s.alwaysOn {
		if final {
			s.appendTranscriptLocked(transcript)
		}
		s.mu.Unlock()
		return
	}

	// Always-on: wake phrases match against live interim text.
	phrase, rest, matched := matchWakePhrase(transcript, s.wakePhrases)
	switch {
	case matched && !s.wakeActive:
		s.wakeActive = true
		s.armWakeTimerLocked()
		if final {
			s.transcript = rest
		}
		s.mu.Unlock()
		logger.DebugCF("voice", "wake phrase detected", map[string]interface{}{
			"phrase": phrase,
		})
		// The greeting acknowledges every first wake match, with or
		// without trailing speech.
		if s.speaker != nil {
			s.speaker.Speak(s.greeting, nil)
		}
		return
	case matched && s.wakeActive && rest == "":
		// Bare repeated wake phrase is a no-op, not a submission.
		if final {
			s.transcript = ""
		}
		s.mu.Unlock()
		return
	default:
		if final {
			if matched {
				s.appendTranscriptLocked(rest)
			} else {
				s.appendTranscriptLocked(transcript)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Session) appendTranscriptLocked(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if s.transcript == "" {
		s.transcript = text
		return
	}
	s.transcript += " " + text
}

func (s *Session) handleError(code string) {
	if code == "no-speech" {
		return
	}
	logger.WarnCF("voice", "recognition error", map[string]interface{}{
		"code": code,
	})
	if s.onInlineError != nil {
		s.onInlineError(code)
	}
	// Flag cleanup belongs to OnEnd, which always follows.
}

// handleEnd is the single authority for clearing session flags and
// routing the captured transcript.
func (s *Session) handleEnd() {
	s.mu.Lock()
	s.clearSilenceTimerLocked()
	s.capturing = false

	text := strings.TrimSpace(s.transcript)
	s.transcript = ""

	wasPTT := s.pttActive
	wakeFollow := s.wakeActive

	submit := false
	switch {
	case wasPTT:
		submit = text != ""
	case wakeFollow:
		// Anything said inside the follow window submits and closes
		// it. An empty end (the greeting turn) leaves the window
		// armed; its timer resets wake state if nothing follows.
		if text != "" {
			submit = true
			s.wakeActive = false
			s.clearWakeTimerLocked()
		}
	case s.alwaysOn && text != "":
		_, rest, matched := matchWakePhrase(text, s.wakePhrases)
		if matched {
			text = rest
		}
		submit = text != ""
	}

	if submit {
		s.setStateLocked(StateThinking)
	} else {
		s.setStateLocked(StateIdle)
	}
	// Cleared only after routing, so a second start cannot race in
	// before the stop-triggered submission decision runs.
	s.pttActive = false
	onSubmit := s.onSubmit
	s.mu.Unlock()

	if submit && onSubmit != nil {
		onSubmit(text)
	}
	if !submit {
		s.maybeRestartCapture()
	}
}

// Speak voices text through the speaker, tracking the utterance for
// interruption resume. onDone runs after synthesis completes and the
// session has returned to idle.
func (s *Session) Speak(text string, onDone func()) {
	s.mu.Lock()
	s.lastUtterance = text
	s.setStateLocked(StateSpeaking)
	speaker := s.speaker
	s.mu.Unlock()

	finish := func() {
		s.mu.Lock()
		if s.state == StateSpeaking {
			s.setStateLocked(StateIdle)
		}
		s.mu.Unlock()
		if onDone != nil {
			onDone()
		}
		s.maybeRestartCapture()
	}
	if speaker == nil {
		finish()
		return
	}
	speaker.Speak(text, finish)
}

// SetThinking marks the agent busy; the watcher will not re-arm.
func (s *Session) SetThinking() {
	s.mu.Lock()
	s.setStateLocked(StateThinking)
	s.mu.Unlock()
}

// SetIdle returns the agent to idle and lets the watcher re-arm.
func (s *Session) SetIdle() {
	s.mu.Lock()
	s.setStateLocked(StateIdle)
	s.mu.Unlock()
	s.maybeRestartCapture()
}

func (s *Session) captureInterruptionLocked() {
	if s.lastUtterance != "" {
		s.interrupted = s.lastUtterance
		s.hasInterrupt = true
	}
}

// Interrupted returns the captured interrupted response, if any.
func (s *Session) Interrupted() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted, s.hasInterrupt
}

// ResumeInterrupted re-speaks the interrupted response verbatim.
func (s *Session) ResumeInterrupted() {
	s.mu.Lock()
	text, ok := s.interrupted, s.hasInterrupt
	s.interrupted, s.hasInterrupt = "", false
	s.mu.Unlock()
	if ok {
		s.Speak(text, nil)
	}
}

// DismissInterrupted drops the captured interrupted response.
func (s *Session) DismissInterrupted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupted, s.hasInterrupt = "", false
}

// Close tears the session down, cancelling speech and capture.
func (s *Session) Close() {
	s.mu.Lock()
	s.alwaysOn = false
	s.wakeActive = false
	s.clearSilenceTimerLocked()
	s.clearWakeTimerLocked()
	capturing := s.capturing
	s.mu.Unlock()

	if s.speaker != nil {
		s.speaker.Cancel()
	}
	if capturing && s.rec != nil {
		s.rec.Stop()
	}
}

// Timers are always cleared before being re-armed; a stale firing
// after a state transition must find its flag already gone.

func (s *Session) armSilenceTimerLocked() {
	s.clearSilenceTimerLocked()
	s.silenceTimer = time.AfterFunc(s.silenceTimeout, func() {
		s.mu.Lock()
		active := s.pttActive
		s.mu.Unlock()
		if active {
			s.rec.Stop()
		}
	})
}

func (s *Session) clearSilenceTimerLocked() {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
}

func (s *Session) armWakeTimerLocked() {
	s.clearWakeTimerLocked()
	s.wakeTimer = time.AfterFunc(s.wakeFollowWindow, func() {
		s.mu.Lock()
		s.wakeActive = false
		s.mu.Unlock()
	})
}

func (s *Session) clearWakeTimerLocked() {
	if s.wakeTimer != nil {
		s.wakeTimer.Stop()
		s.wakeTimer = nil
	}
}

// matchWakePhrase does a case-insensitive prefix test against the
// configured phrases and returns the remainder after the phrase.
func matchWakePhrase(transcript string, phrases []string) (phrase, rest string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(transcript))
	trimmed := strings.TrimSpace(transcript)
	for _, p := range phrases {
		lp := strings.ToLower(strings.TrimSpace(p))
		if lp == "" {
			continue
		}
		if lower == lp {
			return p, "", true
		}
		if strings.HasPrefix(lower, lp) {
			rest := strings.TrimSpace(trimmed[len(lp):])
			rest = strings.TrimLeft(rest, ",.!? ")
			return p, rest, true
		}
	}
	return "", "", false
}
