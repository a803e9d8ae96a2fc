package voice

import (
	"sync"
	"testing"
	"time"
)

type fakeSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	canceled int
	autoDone bool
	pending  func()
}

func (f *fakeSpeaker) Speak(text string, onDone func()) {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	auto := f.autoDone
	if !auto {
		f.pending = onDone
	}
	f.mu.Unlock()
	if auto && onDone != nil {
		onDone()
	}
}

func (f *fakeSpeaker) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled++
	f.pending = nil
}

func (f *fakeSpeaker) finish() {
	f.mu.Lock()
	done := f.pending
	f.pending = nil
	f.mu.Unlock()
	if done != nil {
		done()
	}
}

func (f *fakeSpeaker) utterances() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

type submissions struct {
	mu   sync.Mutex
	got  []string
}

func (s *submissions) record(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, text)
}

func (s *submissions) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	copy(out, s.got)
	return out
}

func wakeOpts(sp *fakeSpeaker, subs *submissions) Options {
	return Options{
		WakePhrases:      []string{"hey agent lee", "agent lee", "hey lee"},
		Greeting:         "Yes? I'm listening.",
		SilenceTimeout:   50 * time.Millisecond,
		WakeFollowWindow: 60 * time.Millisecond,
		Speaker:          sp,
		OnSubmit:         subs.record,
	}
}

func TestSession_NilRecognizerDisablesVoiceOnly(t *testing.T) {
	s := NewSession(nil, Options{})
	if !s.Disabled() {
		t.Fatalf("session not disabled without a recognizer")
	}
	if s.StartPushToTalk() {
		t.Fatalf("push-to-talk started with voice disabled")
	}
	s.SetAlwaysOn(true)
	if s.AlwaysOn() {
		t.Fatalf("always-on enabled with voice disabled")
	}
}

func TestSession_PushToTalkSubmitsOnEnd(t *testing.T) {
	rec := NewSimRecognizer()
	sp := &fakeSpeaker{autoDone: true}
	var subs submissions
	s := NewSession(rec, wakeOpts(sp, &subs))
	defer s.Close()

	if !s.StartPushToTalk() {
		t.Fatalf("StartPushToTalk refused")
	}
	if s.State() != StateListening {
		t.Fatalf("state = %q, want listening", s.State())
	}
	if s.StartPushToTalk() {
		t.Fatalf("second StartPushToTalk accepted while listening")
	}

	rec.HearFinal("remind me to water the plants")
	s.FinalizePushToTalk()

	if got := subs.all(); len(got) != 1 || got[0] != "remind me to water the plants" {
		t.Fatalf("submissions = %v", got)
	}
	if s.State() != StateThinking {
		t.Fatalf("state = %q after submission, want thinking", s.State())
	}
}

func TestSession_SilenceTimeoutFinalizes(t *testing.T) {
	rec := NewSimRecognizer()
	var subs submissions
	s := NewSession(rec, wakeOpts(&fakeSpeaker{autoDone: true}, &subs))
	defer s.Close()

	s.StartPushToTalk()
	rec.HearFinal("hello there")

	deadline := time.After(time.Second)
	for len(subs.all()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("silence timeout never finalized the session")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := subs.all()[0]; got != "hello there" {
		t.Fatalf("submitted %q", got)
	}
}

func TestSession_WakePhraseWithQuestionSubmitsStripped(t *testing.T) {
	rec := NewSimRecognizer()
	sp := &fakeSpeaker{autoDone: true}
	var subs submissions
	s := NewSession(rec, wakeOpts(sp, &subs))
	defer s.Close()

	s.SetAlwaysOn(true)
	if !rec.Running() {
		t.Fatalf("watcher did not start capture")
	}

	rec.HearInterim("hey agent lee what's the weather")
	rec.HearFinal("hey agent lee what's the weather")
	rec.Stop()

	if got := subs.all(); len(got) != 1 || got[0] != "what's the weather" {
		t.Fatalf("submissions = %v, want stripped question", got)
	}
	// The wake match is acknowledged even when a question trails it.
	if got := sp.utterances(); len(got) != 1 || got[0] != "Yes? I'm listening." {
		t.Fatalf("greeting not spoken on wake match with question: %v", got)
	}
}

func TestSession_LoneWakePhraseGreetsWithoutSubmitting(t *testing.T) {
	rec := NewSimRecognizer()
	sp := &fakeSpeaker{autoDone: true}
	var subs submissions
	s := NewSession(rec, wakeOpts(sp, &subs))
	defer s.Close()

	s.SetAlwaysOn(true)
	rec.HearInterim("hey agent lee")
	rec.HearFinal("hey agent lee")

	// Repeated bare phrase while wake-active stays a no-op.
	rec.HearFinal("agent lee")
	rec.Stop()

	if got := subs.all(); len(got) != 0 {
		t.Fatalf("lone wake phrase submitted: %v", got)
	}
	if got := sp.utterances(); len(got) != 1 || got[0] != "Yes? I'm listening." {
		t.Fatalf("greeting not spoken exactly once: %v", got)
	}

	// Watcher re-armed; a question inside the follow window submits.
	if !rec.Running() {
		t.Fatalf("capture not restarted after greeting turn")
	}
	rec.HearFinal("call mom")
	rec.Stop()
	if got := subs.all(); len(got) != 1 || got[0] != "call mom" {
		t.Fatalf("follow-up not submitted: %v", got)
	}
}

func TestSession_WakeWindowExpiryResetsSilently(t *testing.T) {
	rec := NewSimRecognizer()
	sp := &fakeSpeaker{autoDone: true}
	var subs submissions
	s := NewSession(rec, wakeOpts(sp, &subs))
	defer s.Close()

	s.SetAlwaysOn(true)
	rec.HearInterim("hey lee")
	rec.HearFinal("hey lee")
	rec.Stop()

	time.Sleep(100 * time.Millisecond) // past the follow window

	// Plain speech outside any wake window is still a direct request
	// in always-on mode, so wake re-triggers must still work.
	rec.HearInterim("agent lee")
	rec.HearFinal("agent lee")
	rec.Stop()

	if got := subs.all(); len(got) != 0 {
		t.Fatalf("expired window leaked a submission: %v", got)
	}
	if got := sp.utterances(); len(got) != 2 {
		t.Fatalf("re-trigger after expiry did not greet again: %v", got)
	}
}

func TestSession_ErrorIsFollowedByEndCleanup(t *testing.T) {
	rec := NewSimRecognizer()
	var subs submissions
	var inlineErr string
	opts := wakeOpts(&fakeSpeaker{autoDone: true}, &subs)
	opts.OnInlineError = func(code string) { inlineErr = code }
	s := NewSession(rec, opts)
	defer s.Close()

	s.StartPushToTalk()
	rec.Fail("network")

	if inlineErr != "network" {
		t.Fatalf("inline error = %q, want network", inlineErr)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %q after error end, want idle", s.State())
	}
	// Flags were cleared by the end event; a new session starts clean.
	if !s.StartPushToTalk() {
		t.Fatalf("cannot restart after error recovery")
	}
}

func TestSession_InterruptionCaptureAndResume(t *testing.T) {
	rec := NewSimRecognizer()
	sp := &fakeSpeaker{}
	var subs submissions
	s := NewSession(rec, wakeOpts(sp, &subs))
	defer s.Close()

	s.Speak("the capital of France is Paris", nil)
	if s.State() != StateSpeaking {
		t.Fatalf("state = %q, want speaking", s.State())
	}

	if !s.StartPushToTalk() {
		t.Fatalf("push-to-talk refused during speech")
	}
	if sp.canceled == 0 {
		t.Fatalf("in-progress speech not canceled on interruption")
	}
	captured, ok := s.Interrupted()
	if !ok || captured != "the capital of France is Paris" {
		t.Fatalf("interrupted capture = %q, %v", captured, ok)
	}

	rec.HearFinal("never mind")
	s.FinalizePushToTalk()

	s.ResumeInterrupted()
	utts := sp.utterances()
	if utts[len(utts)-1] != "the capital of France is Paris" {
		t.Fatalf("resume did not re-speak verbatim: %v", utts)
	}
	if _, ok := s.Interrupted(); ok {
		t.Fatalf("interrupted capture not cleared after resume")
	}
}

func TestSession_AlwaysOnToggleInterruptsSpeech(t *testing.T) {
	rec := NewSimRecognizer()
	sp := &fakeSpeaker{}
	var subs submissions
	s := NewSession(rec, wakeOpts(sp, &subs))
	defer s.Close()

	s.Speak("counting sheep, one, two, three", nil)
	if s.State() != StateSpeaking {
		t.Fatalf("state = %q, want speaking", s.State())
	}

	s.SetAlwaysOn(true)
	if sp.canceled == 0 {
		t.Fatalf("in-progress speech not canceled by listening toggle")
	}
	captured, ok := s.Interrupted()
	if !ok || captured != "counting sheep, one, two, three" {
		t.Fatalf("interrupted capture = %q, %v", captured, ok)
	}
	if !rec.Running() {
		t.Fatalf("watcher did not start capture after the interruption")
	}

	s.ResumeInterrupted()
	utts := sp.utterances()
	if utts[len(utts)-1] != "counting sheep, one, two, three" {
		t.Fatalf("resume did not re-speak verbatim: %v", utts)
	}
}

func TestSession_EndToEndWakeExchange(t *testing.T) {
	rec := NewSimRecognizer()
	sp := &fakeSpeaker{autoDone: true}
	var subs submissions
	s := NewSession(rec, wakeOpts(sp, &subs))
	defer s.Close()

	s.SetAlwaysOn(true)

	// Wake, greet, follow window, question, answer, watcher re-arm.
	rec.HearInterim("hey agent lee")
	rec.HearFinal("hey agent lee")
	rec.Stop()
	rec.HearFinal("what day is it")
	rec.Stop()

	if got := subs.all(); len(got) != 1 || got[0] != "what day is it" {
		t.Fatalf("submissions = %v", got)
	}
	if s.State() != StateThinking {
		t.Fatalf("state = %q after submission, want thinking", s.State())
	}

	done := false
	s.Speak("It's Tuesday.", func() { done = true })
	if !done {
		t.Fatalf("speak completion callback did not run")
	}
	if s.State() != StateListening {
		t.Fatalf("watcher did not resume capture after speech, state = %q", s.State())
	}
	if !rec.Running() {
		t.Fatalf("recognizer not running after turn completed")
	}
}
