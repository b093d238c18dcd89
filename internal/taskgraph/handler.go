package taskgraph

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"

	hoisterr "github.com/tylerbutler/hoist/internal/errors"
	"github.com/tylerbutler/hoist/internal/project"
)

// Request carries everything a handler needs to perform one task invocation.
type Request struct {
	Package *project.Package
	Command string // the task's command string
	Script  string // concrete command line for script-backed handlers
	Dir     string // working directory, normally the package directory
}

// Response is what a handler produces. A Failed result with a nil error is
// an ordinary task failure; a non-nil error is an infrastructure problem
// (e.g. the process could not be started at all).
type Response struct {
	Result BuildResult
	Stdout []byte
	Stderr []byte
}

// Handler performs the actual work of a leaf task. The orchestrator treats
// handlers as opaque: it only decides whether and when to invoke them.
type Handler interface {
	Run(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f HandlerFunc) Run(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Registry maps task command names to handlers. Populated at startup;
// lookup failure during graph construction is fatal.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// DefaultRegistry returns a registry with the built-in handlers registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("shell", ShellHandler{})
	r.Register("noop", HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Result: Success}, nil
	}))
	return r
}

// Register binds a command name to a handler, replacing any previous binding.
func (r *Registry) Register(command string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[command] = h
}

// Resolve returns the handler for a command name. An unknown command is a
// fatal configuration error.
func (r *Registry) Resolve(command string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[command]
	if !ok {
		return nil, hoisterr.UnknownTaskHandler(command)
	}
	return h, nil
}

// ShellHandler executes the request's script through the system shell in the
// package directory. A non-zero exit is a task failure, not an error.
type ShellHandler struct{}

func (ShellHandler) Run(ctx context.Context, req *Request) (*Response, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", req.Script) // #nosec G204 - scripts come from trusted task config
	cmd.Dir = req.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	resp := &Response{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			resp.Result = Failed
			return resp, nil
		}
		return resp, err
	}
	resp.Result = Success
	return resp, nil
}
