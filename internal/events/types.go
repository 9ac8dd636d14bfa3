package events

// Event type constants following CloudEvents naming conventions
// Format: <reverse-dns>.<resource>.<action>.<version>

const (
	// Event source.
	EventSourceRelocation = "io.libops.relocation"

	// Relocation notifications.
	EventTypeRelocationStarted          = "io.libops.relocation.started.v1"
	EventTypeRelocationFailed           = "io.libops.relocation.failed.v1"
	EventTypeRelocationSucceeded        = "io.libops.relocation.succeeded.v1"
	EventTypeRelocationAccountRelocated = "io.libops.relocation.account_relocated.v1"
)

// ContentTypeJSON is the data content type of every queued event.
const ContentTypeJSON = "application/json"
