package voice

import "sync"

// SimRecognizer is an in-process recognizer used by the CLI and tests.
// Transcripts are injected with Hear calls; it preserves the contract
// that an error event is always followed by an end event.
type SimRecognizer struct {
	mu      sync.Mutex
	h       Handlers
	running bool
}

func NewSimRecognizer() *SimRecognizer {
	return &SimRecognizer{}
}

func (r *SimRecognizer) SetHandlers(h Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.h = h
}

func (r *SimRecognizer) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	onStart := r.h.OnStart
	r.mu.Unlock()
	if onStart != nil {
		onStart()
	}
	return nil
}

func (r *SimRecognizer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	onEnd := r.h.OnEnd
	r.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
}

// Running reports whether capture is active.
func (r *SimRecognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// HearInterim injects a live partial transcript.
func (r *SimRecognizer) HearInterim(transcript string) {
	r.emit(transcript, false)
}

// HearFinal injects a finalized transcript segment.
func (r *SimRecognizer) HearFinal(transcript string) {
	r.emit(transcript, true)
}

func (r *SimRecognizer) emit(transcript string, final bool) {
	r.mu.Lock()
	running := r.running
	onResult := r.h.OnResult
	r.mu.Unlock()
	if running && onResult != nil {
		onResult(transcript, final)
	}
}

// Fail injects an engine error followed by the mandatory end event.
func (r *SimRecognizer) Fail(code string) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	onError := r.h.OnError
	onEnd := r.h.OnEnd
	r.mu.Unlock()
	if onError != nil {
		onError(code)
	}
	if onEnd != nil {
		onEnd()
	}
}
