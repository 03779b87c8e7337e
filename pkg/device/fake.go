package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/campus-netops/fleetup/pkg/hoststate"
)

// Fake is an in-memory Session for tests. Commands are answered from a
// scripted response table and every call is recorded so tests can assert
// which device operations ran.
type Fake struct {
	HostName string
	// Responses maps an exact command string to its output.
	Responses map[string]string
	// Errs maps a command to a forced error.
	Errs map[string]error

	SaveErr     error
	TransferErr error

	Commands      []string
	ConfigBatches [][]string
	Transfers     []string
	Saves         int
	Closed        bool
}

func (f *Fake) SendCommand(_ context.Context, command string) (*Result, error) {
	f.Commands = append(f.Commands, command)
	if err := f.Errs[command]; err != nil {
		return nil, &CommandError{Host: f.HostName, Command: command, Err: err}
	}
	return &Result{Command: command, Output: f.Responses[command]}, nil
}

func (f *Fake) SendConfig(_ context.Context, commands []string) (*Result, error) {
	f.ConfigBatches = append(f.ConfigBatches, commands)
	key := fmt.Sprintf("config:%v", commands)
	if err := f.Errs[key]; err != nil {
		return nil, &CommandError{Host: f.HostName, Command: key, Err: err}
	}
	return &Result{Command: key, Output: f.Responses[key]}, nil
}

func (f *Fake) SaveConfig(context.Context) error {
	f.Saves++
	return f.SaveErr
}

func (f *Fake) TransferFile(_ context.Context, localPath, remoteName string) error {
	f.Transfers = append(f.Transfers, remoteName)
	return f.TransferErr
}

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

// MutatingCalls counts the calls that change device state. Idempotence tests
// assert this stays zero on a re-run.
func (f *Fake) MutatingCalls() int {
	n := len(f.ConfigBatches) + len(f.Transfers) + f.Saves
	for _, c := range f.Commands {
		if len(c) >= 6 && c[:6] == "delete" {
			n++
		}
		if len(c) >= 4 && c[:4] == "copy" {
			n++
		}
		if len(c) >= 6 && c[:6] == "reload" {
			n++
		}
	}
	return n
}

// FakeDialer hands out Fake sessions per host name.
type FakeDialer struct {
	mu       sync.Mutex
	Sessions map[string]*Fake
	// RejectPassword fails authentication for hosts still carrying this
	// password, which is how the credential-fallback pass is exercised.
	RejectPassword string

	Dials []string
}

func (d *FakeDialer) Dial(_ context.Context, h *hoststate.Host) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Dials = append(d.Dials, h.Name)
	if d.RejectPassword != "" && h.Password == d.RejectPassword {
		return nil, &AuthError{Host: h.Name, Err: fmt.Errorf("bad credentials")}
	}
	if d.Sessions == nil {
		d.Sessions = make(map[string]*Fake)
	}
	sess, ok := d.Sessions[h.Name]
	if !ok {
		sess = &Fake{HostName: h.Name}
		d.Sessions[h.Name] = sess
	}
	sess.Closed = false
	return sess, nil
}
