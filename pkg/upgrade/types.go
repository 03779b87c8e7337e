package upgrade

// UpgradeRequest is the FSM input: the inventory name of the host being
// upgraded. Everything else is looked up through the machine's registries.
type UpgradeRequest struct {
	Host string
}

// UpgradeResponse is the FSM output, accumulated across transitions. Done
// short-circuits the remaining states once a host needs no further work.
type UpgradeResponse struct {
	Done   bool
	Reason string

	AtTarget    bool
	Transferred bool
	Verified    bool
}

// State names, in transition order.
const (
	StateAuthCheck      = "auth_check"
	StateHostnameVerify = "hostname_verify"
	StateStackResolve   = "stack_resolve"
	StateCurrentImage   = "current_image"
	StateTargetCheck    = "target_check"
	StateFlashCheck     = "flash_check"
	StateCleanupPlan    = "cleanup_plan"
	StateCleanupExecute = "cleanup_execute"
	StateScpEnable      = "scp_enable"
	StateBulkEnable     = "bulk_mode_enable"
	StateTransfer       = "transfer"
	StateStackPropagate = "stack_propagate"
	StateScpDisable     = "scp_disable"
	StateBulkDisable    = "bulk_mode_disable"
	StateMd5Verify      = "md5_verify"
	StateComplete       = "complete"
	StateFailed         = "failed"
)

// Skip reasons recorded in UpgradeResponse.Reason.
const (
	ReasonAtTarget         = "at_target"
	ReasonTransferComplete = "transfer_complete"
	ReasonHostnameMismatch = "hostname_mismatch"
)
