// Package tmux provides the SessionHost capability over a tmux server.
// Each agent runs inside its own detached session; the orchestrator
// observes agents by capturing trailing pane output and steers them by
// sending keystrokes.
package tmux

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SessionHost is the capability interface over a terminal multiplexer.
type SessionHost interface {
	// Create starts a detached session running initialCommand at cwd.
	Create(name, cwd, initialCommand string) error
	// Has reports whether a session with the given name exists.
	Has(name string) (bool, error)
	// Send delivers text to the session verbatim, followed by a newline.
	Send(name, text string) error
	// Capture returns the trailing lines of the session's pane.
	Capture(name string, lines int) (string, error)
	// Kill terminates the session. Killing a missing session is not an error.
	Kill(name string) error
	// List returns the names of all sessions on the server.
	List() ([]string, error)
}

// ExecHost implements SessionHost by shelling out to the tmux binary.
type ExecHost struct {
	// Binary is the tmux executable, "tmux" by default.
	Binary string
}

// NewExecHost returns a SessionHost backed by the system tmux.
func NewExecHost() *ExecHost {
	return &ExecHost{Binary: "tmux"}
}

// run executes a tmux command and returns its combined output.
func (h *ExecHost) run(args ...string) (string, error) {
	bin := h.Binary
	if bin == "" {
		bin = "tmux"
	}
	cmd := exec.Command(bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}

// Create starts a detached session running initialCommand at cwd.
func (h *ExecHost) Create(name, cwd, initialCommand string) error {
	args := []string{"new-session", "-d", "-s", name}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	if initialCommand != "" {
		args = append(args, initialCommand)
	}
	if _, err := h.run(args...); err != nil {
		return fmt.Errorf("create session %s: %w", name, err)
	}
	return nil
}

// Has reports whether a session with the given name exists.
func (h *ExecHost) Has(name string) (bool, error) {
	bin := h.Binary
	if bin == "" {
		bin = "tmux"
	}
	cmd := exec.Command(bin, "has-session", "-t", name)
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means no such session (not an error).
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("has-session %s: %w", name, err)
	}
	return true, nil
}

// Send delivers text to the session verbatim, followed by Enter.
// The -l flag keeps tmux from interpreting the text as key names.
func (h *ExecHost) Send(name, text string) error {
	if _, err := h.run("send-keys", "-t", name, "-l", text); err != nil {
		return fmt.Errorf("send to session %s: %w", name, err)
	}
	if _, err := h.run("send-keys", "-t", name, "Enter"); err != nil {
		return fmt.Errorf("send enter to session %s: %w", name, err)
	}
	return nil
}

// Capture returns the trailing lines of the session's active pane.
func (h *ExecHost) Capture(name string, lines int) (string, error) {
	if lines < 1 {
		lines = 1
	}
	out, err := h.run("capture-pane", "-p", "-t", name, "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", fmt.Errorf("capture session %s: %w", name, err)
	}
	return out, nil
}

// Kill terminates the session. A missing session is treated as already dead.
func (h *ExecHost) Kill(name string) error {
	exists, err := h.Has(name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if _, err := h.run("kill-session", "-t", name); err != nil {
		return fmt.Errorf("kill session %s: %w", name, err)
	}
	return nil
}

// List returns the names of all sessions on the server. A missing or empty
// server yields an empty list.
func (h *ExecHost) List() ([]string, error) {
	bin := h.Binary
	if bin == "" {
		bin = "tmux"
	}
	cmd := exec.Command(bin, "list-sessions", "-F", "#{session_name}")
	out, err := cmd.CombinedOutput()
	if err != nil {
		// tmux exits 1 when no server is running.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w: %s", err, string(out))
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Verify ExecHost implements SessionHost at compile time.
var _ SessionHost = (*ExecHost)(nil)
