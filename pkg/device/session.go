// Package device is the command-execution collaborator: the only way the
// workflow changes device state. It defines the session contract, a typed
// error taxonomy, and an SSH implementation.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/campus-netops/fleetup/pkg/hoststate"
)

// Result is the outcome of one device command: the command that ran and the
// raw text the device returned. Callers inspect it explicitly instead of
// relying on exceptions out of the transport.
type Result struct {
	Command string
	Output  string
}

// Contains reports whether the output contains the given text,
// case-insensitively. Device CLIs are inconsistent about casing.
func (r *Result) Contains(s string) bool {
	return strings.Contains(strings.ToLower(r.Output), strings.ToLower(s))
}

// Session is one open connection to a device. All calls block; commands on
// one session execute strictly in sequence.
type Session interface {
	// SendCommand runs a single exec-mode command and returns its output.
	SendCommand(ctx context.Context, command string) (*Result, error)
	// SendConfig enters configuration mode and applies the commands in order.
	SendConfig(ctx context.Context, commands []string) (*Result, error)
	// SaveConfig persists the running configuration.
	SaveConfig(ctx context.Context) error
	// TransferFile pushes a local file to the device flash under remoteName.
	TransferFile(ctx context.Context, localPath, remoteName string) error
	Close() error
}

// Dialer opens sessions. Implementations inject credentials from the host
// record, so a fleet-level credential fallback only has to rewrite the host.
type Dialer interface {
	Dial(ctx context.Context, h *hoststate.Host) (Session, error)
}

// AuthError marks an authentication failure. It short-circuits the whole
// per-host workflow and feeds the fleet-level credential-fallback pass.
type AuthError struct {
	Host string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// CommandError carries host and command context for a failed device call.
type CommandError struct {
	Host    string
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: command %q failed: %v", e.Host, e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
