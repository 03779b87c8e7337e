// Package upgrade orchestrates the firmware transfer workflow as a
// resumable per-host state machine, and runs it across the fleet with
// bounded concurrency.
//
// Each state is idempotent: it reads its prerequisites from the host state
// registry, skips work a previous run already completed, and records its
// outcome back. A host that reaches the target version, or that already
// holds a verified image in flash, passes through the remaining states
// untouched.
package upgrade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/superfly/fsm"

	"github.com/campus-netops/fleetup/pkg/boot"
	"github.com/campus-netops/fleetup/pkg/db"
	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/deviceinfo"
	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/flash"
	"github.com/campus-netops/fleetup/pkg/hoststate"
	"github.com/campus-netops/fleetup/pkg/transfer"
)

// Machine holds the dependencies of the FSM transitions.
type Machine struct {
	dialer        device.Dialer
	repo          *db.Repository
	inventoryName string
	imageFolder   string
	skipDNSCheck  bool
	force         bool
	maxRetries    int
	archiveCutoff int

	mu       sync.Mutex
	hosts    map[string]*hoststate.Host
	sessions map[string]device.Session

	seq atomic.Uint64

	start fsm.Start[UpgradeRequest, UpgradeResponse]
}

// MachineConfig configures a Machine.
type MachineConfig struct {
	Dialer        device.Dialer
	Repo          *db.Repository
	InventoryName string
	ImageFolder   string
	SkipDNSCheck  bool
	// Force re-runs checks that completed in a previous run.
	Force      bool
	MaxRetries int
	// ArchiveCutoffYear deletes archive files older than this year during
	// cleanup. Zero leaves archives alone.
	ArchiveCutoffYear int
}

// NewMachine creates the upgrade machine.
func NewMachine(cfg MachineConfig) *Machine {
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}
	return &Machine{
		dialer:        cfg.Dialer,
		repo:          cfg.Repo,
		inventoryName: cfg.InventoryName,
		imageFolder:   cfg.ImageFolder,
		skipDNSCheck:  cfg.SkipDNSCheck,
		force:         cfg.Force,
		maxRetries:    retries,
		archiveCutoff: cfg.ArchiveCutoffYear,
		hosts:         make(map[string]*hoststate.Host),
		sessions:      make(map[string]device.Session),
	}
}

// Register registers the transfer FSM with the manager.
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) error {
	start, _, err := fsm.Register[UpgradeRequest, UpgradeResponse](manager, "image-transfer").
		Start(StateAuthCheck, m.handleAuthCheck).
		To(StateHostnameVerify, m.step(StateHostnameVerify, m.stepHostnameVerify)).
		To(StateStackResolve, m.step(StateStackResolve, m.stepStackResolve)).
		To(StateCurrentImage, m.step(StateCurrentImage, m.stepCurrentImage)).
		To(StateTargetCheck, m.step(StateTargetCheck, m.stepTargetCheck)).
		To(StateFlashCheck, m.step(StateFlashCheck, m.stepFlashCheck)).
		To(StateCleanupPlan, m.step(StateCleanupPlan, m.stepCleanupPlan)).
		To(StateCleanupExecute, m.step(StateCleanupExecute, m.stepCleanupExecute)).
		To(StateScpEnable, m.step(StateScpEnable, m.stepScpEnable)).
		To(StateBulkEnable, m.step(StateBulkEnable, m.stepBulkEnable)).
		To(StateTransfer, m.step(StateTransfer, m.stepTransfer)).
		To(StateStackPropagate, m.step(StateStackPropagate, m.stepStackPropagate)).
		To(StateScpDisable, m.step(StateScpDisable, m.stepScpDisable)).
		To(StateBulkDisable, m.step(StateBulkDisable, m.stepBulkDisable)).
		To(StateMd5Verify, m.step(StateMd5Verify, m.stepMd5Verify)).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to register FSM")
	}

	m.start = start
	return nil
}

// Run drives one host through the machine and waits for it to finish. The
// FSM key carries the run id and an attempt sequence so every call gets a
// fresh machine instance, including the fallback-credential retry of a host
// that already failed in this run; resuming partial progress is the state
// registry's job, not the FSM's.
func (m *Machine) Run(ctx context.Context, manager *fsm.Manager, runID int64, h *hoststate.Host) (*UpgradeResponse, error) {
	m.mu.Lock()
	m.hosts[h.Name] = h
	m.mu.Unlock()
	defer m.CloseSession(h.Name)

	req := &UpgradeRequest{Host: h.Name}
	resp := &UpgradeResponse{}

	key := fmt.Sprintf("%d/%s/%d", runID, h.Name, m.seq.Add(1))
	version, err := m.start(ctx, key, fsm.NewRequest(req, resp))
	if err != nil {
		return resp, errors.Wrapf(err, "start upgrade for %s", h.Name)
	}

	if err := manager.Wait(ctx, version); err != nil {
		return resp, errors.Wrapf(err, "upgrade failed for %s", h.Name)
	}
	return resp, nil
}

func (m *Machine) host(name string) *hoststate.Host {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hosts[name]
}

func (m *Machine) session(name string) device.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[name]
}

func (m *Machine) setSession(name string, sess device.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[name] = sess
}

// CloseSession closes and forgets a host's session. Safe to call on hosts
// that never opened one.
func (m *Machine) CloseSession(name string) {
	m.mu.Lock()
	sess := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			slog.Warn("session_close_failed", "host", name, "error", err)
		}
	}
}

// persist writes the host's state snapshot; persistence failures are not
// fatal to the workflow, the in-memory state is still authoritative.
func (m *Machine) persist(h *hoststate.Host) {
	if m.repo == nil {
		return
	}
	if err := m.repo.SaveState(h, m.inventoryName); err != nil {
		slog.Error("state_persist_failed", "host", h.Name, "error", err)
	}
}

type stepFunc func(ctx context.Context, h *hoststate.Host, sess device.Session, resp *UpgradeResponse) error

// step wraps the per-state logic with the shared bookkeeping: retry limit,
// host and session lookup, Done pass-through and state persistence.
func (m *Machine) step(event string, fn stepFunc) func(context.Context, *fsm.Request[UpgradeRequest, UpgradeResponse]) (*fsm.Response[UpgradeResponse], error) {
	return func(ctx context.Context, req *fsm.Request[UpgradeRequest, UpgradeResponse]) (*fsm.Response[UpgradeResponse], error) {
		if retry := fsm.RetryFromContext(ctx); retry >= uint64(m.maxRetries) {
			slog.Error("max_retries_exceeded", "host", req.Msg.Host, "state", event, "max_retries", m.maxRetries)
			return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
		}

		resp := req.W.Msg
		if resp == nil {
			return nil, fsm.Abort(errors.New("response not initialized"))
		}
		if resp.Done {
			return fsm.NewResponse(resp), nil
		}

		h := m.host(req.Msg.Host)
		if h == nil {
			return nil, fsm.Abort(fmt.Errorf("unknown host %s", req.Msg.Host))
		}
		sess := m.session(req.Msg.Host)
		if sess == nil {
			return nil, fsm.Abort(fmt.Errorf("no session for %s", req.Msg.Host))
		}

		slog.Info("fsm_state_"+event, "host", h.Name)

		if err := fn(ctx, h, sess, resp); err != nil {
			m.persist(h)
			return nil, err
		}

		m.persist(h)
		return fsm.NewResponse(resp), nil
	}
}

// handleAuthCheck opens the device session. Authentication failures abort
// the machine; the runner routes those hosts into the fallback-credential
// pass.
func (m *Machine) handleAuthCheck(ctx context.Context, req *fsm.Request[UpgradeRequest, UpgradeResponse]) (*fsm.Response[UpgradeResponse], error) {
	slog.Info("fsm_state_"+StateAuthCheck, "host", req.Msg.Host)

	if retry := fsm.RetryFromContext(ctx); retry >= uint64(m.maxRetries) {
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &UpgradeResponse{}
	}

	h := m.host(req.Msg.Host)
	if h == nil {
		return nil, fsm.Abort(fmt.Errorf("unknown host %s", req.Msg.Host))
	}

	if sess := m.session(h.Name); sess != nil {
		return fsm.NewResponse(resp), nil
	}

	sess, err := m.dialer.Dial(ctx, h)
	if err != nil {
		if device.IsAuthError(err) {
			h.State.AuthStatus = hoststate.Bool(false)
			m.persist(h)
			return nil, fsm.Abort(err)
		}
		h.State.ConnectionError = hoststate.String(err.Error())
		m.persist(h)
		return nil, errors.Wrapf(err, "connect to %s", h.Name)
	}

	m.setSession(h.Name, sess)
	h.State.AuthStatus = hoststate.Bool(true)
	h.State.ConnectionError = nil
	m.persist(h)
	return fsm.NewResponse(resp), nil
}

func (m *Machine) stepHostnameVerify(ctx context.Context, h *hoststate.Host, sess device.Session, resp *UpgradeResponse) error {
	if m.skipDNSCheck {
		return nil
	}
	if !deviceinfo.VerifyHostname(ctx, sess, h) {
		resp.Done = true
		resp.Reason = ReasonHostnameMismatch
	}
	return nil
}

func (m *Machine) stepStackResolve(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	return deviceinfo.GetStackInfo(ctx, sess, h, m.force)
}

func (m *Machine) stepCurrentImage(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	if err := deviceinfo.GetCurrentImage(ctx, sess, h, m.force); err != nil {
		return err
	}
	if m.force || h.State.OSVersion == nil {
		return deviceinfo.GetOSVersion(ctx, sess, h)
	}
	return nil
}

// stepTargetCheck short-circuits hosts that need nothing: already running
// the target, or already holding a verified copy in flash.
func (m *Machine) stepTargetCheck(ctx context.Context, h *hoststate.Host, sess device.Session, resp *UpgradeResponse) error {
	if deviceinfo.AtTargetVersion(h) {
		h.State.IsAtTarget = hoststate.Bool(true)
		resp.Done = true
		resp.Reason = ReasonAtTarget
		resp.AtTarget = true
		slog.Info("host_at_target", "host", h.Name)
		return nil
	}

	if hoststate.BoolSet(h.State.PrimaryImageInFlash) {
		if !hoststate.BoolSet(h.State.PrimaryImageMD5Verified) {
			if err := flash.VerifyMD5(ctx, sess, h, false); err != nil {
				return err
			}
		}
		if hoststate.BoolSet(h.State.PrimaryImageMD5Verified) {
			resp.Done = true
			resp.Reason = ReasonTransferComplete
			resp.Verified = true
			slog.Info("transfer_already_complete", "host", h.Name)
		}
	}
	return nil
}

func (m *Machine) stepFlashCheck(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	if err := flash.CheckPrimaryInFlash(ctx, sess, h, m.force); err != nil {
		return err
	}
	if info := h.State.StackInfo; info != nil && info.IsStack {
		if err := flash.CheckPrimaryInFlashStack(ctx, sess, h, m.force); err != nil {
			return err
		}
	}
	return flash.CheckFreeSpace(ctx, sess, h)
}

func (m *Machine) stepCleanupPlan(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	return flash.PlanCleanup(ctx, sess, h)
}

func (m *Machine) stepCleanupExecute(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	if err := flash.DeleteUnused(ctx, sess, h); err != nil {
		return err
	}
	if m.archiveCutoff > 0 {
		return flash.DeleteOldArchives(ctx, sess, h, m.archiveCutoff)
	}
	return nil
}

func (m *Machine) stepScpEnable(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	if hoststate.BoolSet(h.State.PrimaryImageInFlash) {
		return nil
	}
	return transfer.EnableSCP(ctx, sess, h)
}

func (m *Machine) stepBulkEnable(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	if hoststate.BoolSet(h.State.PrimaryImageInFlash) {
		return nil
	}
	transfer.CheckBulkModeSupport(h)
	return transfer.EnableBulkMode(ctx, sess, h)
}

func (m *Machine) stepTransfer(ctx context.Context, h *hoststate.Host, sess device.Session, resp *UpgradeResponse) error {
	if hoststate.BoolSet(h.State.PrimaryImageInFlash) {
		return nil
	}
	if err := transfer.Image(ctx, sess, h, m.imageFolder); err != nil {
		return err
	}
	resp.Transferred = true
	return nil
}

func (m *Machine) stepStackPropagate(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	info := h.State.StackInfo
	if info == nil || !info.IsStack {
		return nil
	}
	if err := flash.PropagateToStack(ctx, sess, h); err != nil {
		return err
	}
	return flash.CheckPrimaryInFlashStack(ctx, sess, h, false)
}

func (m *Machine) stepScpDisable(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	if !hoststate.BoolSet(h.State.SCPEnabled) {
		return nil
	}
	return transfer.DisableSCP(ctx, sess, h)
}

func (m *Machine) stepBulkDisable(ctx context.Context, h *hoststate.Host, sess device.Session, _ *UpgradeResponse) error {
	if !hoststate.BoolSet(h.State.BulkModeEnabled) {
		return nil
	}
	return transfer.DisableBulkMode(ctx, sess, h)
}

func (m *Machine) stepMd5Verify(ctx context.Context, h *hoststate.Host, sess device.Session, resp *UpgradeResponse) error {
	if err := flash.VerifyMD5(ctx, sess, h, m.force); err != nil {
		return err
	}
	resp.Verified = hoststate.BoolSet(h.State.PrimaryImageMD5Verified)
	return nil
}

// handleComplete closes out the host: final persist and summary log.
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[UpgradeRequest, UpgradeResponse]) (*fsm.Response[UpgradeResponse], error) {
	resp := req.W.Msg
	if resp == nil {
		resp = &UpgradeResponse{}
	}

	h := m.host(req.Msg.Host)
	if h == nil {
		return nil, fsm.Abort(fmt.Errorf("unknown host %s", req.Msg.Host))
	}

	m.persist(h)
	slog.Info("fsm_complete", "host", h.Name,
		"reason", resp.Reason, "transferred", resp.Transferred, "verified", resp.Verified)
	return fsm.NewResponse(resp), nil
}

// SetBootStatement configures the boot statement on a host after a
// verified transfer, dispatching on device family.
func SetBootStatement(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	if deviceinfo.IsRouter(h) {
		return boot.SetRouter(ctx, sess, h, force)
	}
	return boot.SetSwitch(ctx, sess, h, force)
}
