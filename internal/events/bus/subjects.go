package bus

// Subjects published by the orchestrator.
const (
	// SubjectTerminalCreated fires after a terminal is fully initialized.
	SubjectTerminalCreated = "terminal.created"
	// SubjectTerminalDeleted fires after a terminal's metadata is removed.
	SubjectTerminalDeleted = "terminal.deleted"
	// SubjectInboxDelivered fires when a queued message reaches its receiver.
	SubjectInboxDelivered = "inbox.delivered"
	// SubjectInboxFailed fires when a delivery attempt fails permanently.
	SubjectInboxFailed = "inbox.failed"
	// SubjectRelaySent fires when a worker's result is relayed to its supervisor.
	SubjectRelaySent = "relay.sent"
)
