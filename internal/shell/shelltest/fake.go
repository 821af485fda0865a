// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/initializ/dockflow/internal/shell"
)

type response struct {
	prefix string
	stdout string
	err    error
}

// Runner records every command and answers from responses registered with
// On. Commands without a matching response succeed with empty output.
type Runner struct {
	mu        sync.Mutex
	calls     []shell.Command
	responses []response
}

// On registers the output for commands whose rendered command line starts
// with prefix. Later registrations take precedence.
func (r *Runner) On(prefix, stdout string, err error) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, response{prefix: prefix, stdout: stdout, err: err})
	return r
}

// Run implements shell.Runner.
func (r *Runner) Run(_ context.Context, cmd shell.Command) (*shell.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	var match *response
	line := cmd.String()
	for i := len(r.responses) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, r.responses[i].prefix) {
			match = &r.responses[i]
			break
		}
	}
	r.mu.Unlock()

	if match == nil {
		return &shell.Result{}, nil
	}
	if cmd.Stdout != nil {
		io.WriteString(cmd.Stdout, match.stdout) //nolint:errcheck
	}
	res := &shell.Result{Stdout: []byte(match.stdout)}
	if match.err != nil {
		res.ExitCode = 1
	}
	return res, match.err
}

// Commands returns the rendered command lines in call order.
func (r *Runner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.String()
	}
	return out
}

// Calls returns the recorded commands.
func (r *Runner) Calls() []shell.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shell.Command(nil), r.calls...)
}

// Count returns how many recorded command lines start with prefix.
func (r *Runner) Count(prefix string) int {
	n := 0
	for _, c := range r.Commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
