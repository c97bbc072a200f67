package tmux

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FakeHost is an in-memory SessionHost for tests. Sent text is appended to
// the session's transcript so captures reflect delivered messages.
type FakeHost struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession

	// NextCapture, when set, is returned by the next Capture call and then
	// cleared. Used to simulate on-screen markers like queued-message hints.
	NextCapture string

	// FailCapture makes every Capture call return an error.
	FailCapture bool

	// Sent records every Send in order, formatted "name: text".
	Sent []string
}

type fakeSession struct {
	cwd     string
	command string
	lines   []string
}

// NewFakeHost returns an empty fake session host.
func NewFakeHost() *FakeHost {
	return &FakeHost{sessions: make(map[string]*fakeSession)}
}

// Create starts a fake session.
func (h *FakeHost) Create(name, cwd, initialCommand string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[name]; ok {
		return fmt.Errorf("duplicate session %s", name)
	}
	h.sessions[name] = &fakeSession{cwd: cwd, command: initialCommand}
	return nil
}

// Has reports whether the fake session exists.
func (h *FakeHost) Has(name string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[name]
	return ok, nil
}

// Send appends text to the session transcript.
func (h *FakeHost) Send(name, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[name]
	if !ok {
		return fmt.Errorf("no session %s", name)
	}
	s.lines = append(s.lines, strings.Split(text, "\n")...)
	h.Sent = append(h.Sent, name+": "+text)
	return nil
}

// Capture returns the trailing lines of the session transcript, or the
// staged NextCapture value.
func (h *FakeHost) Capture(name string, lines int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailCapture {
		return "", fmt.Errorf("capture failed for %s", name)
	}
	if h.NextCapture != "" {
		out := h.NextCapture
		h.NextCapture = ""
		return out, nil
	}
	s, ok := h.sessions[name]
	if !ok {
		return "", fmt.Errorf("no session %s", name)
	}
	start := 0
	if len(s.lines) > lines {
		start = len(s.lines) - lines
	}
	return strings.Join(s.lines[start:], "\n"), nil
}

// Kill removes the fake session. Missing sessions are ignored.
func (h *FakeHost) Kill(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, name)
	return nil
}

// List returns the fake session names, sorted for determinism.
func (h *FakeHost) List() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.sessions))
	for name := range h.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// AppendOutput simulates the CLI writing lines to the session.
func (h *FakeHost) AppendOutput(name string, lines ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[name]; ok {
		s.lines = append(s.lines, lines...)
	}
}

// Verify FakeHost implements SessionHost at compile time.
var _ SessionHost = (*FakeHost)(nil)
