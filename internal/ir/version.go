package ir

// Version constants for the wire format and server.
const (
	// JournalFormatVersion is stamped on every persisted mutation record.
	JournalFormatVersion = "1"

	// ServerVersion is reported by ping.
	ServerVersion = "0.1.0"
)
