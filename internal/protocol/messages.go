// Package protocol defines the wire schema shared by the peer service
// and the printer service, per spec.md 6. Field names follow the
// original printing_pb2 schema the protocol was distilled from, kept
// stable across the HTTP/JSON transport used here.
package protocol

// AccessRequest is a RequestAccess call from one peer to another.
type AccessRequest struct {
	ClientID         int    `json:"client_id"`
	LamportTimestamp int64  `json:"lamport_timestamp"`
	RequestNumber    uint64 `json:"request_number"`
}

// AccessResponse is the reply to a RequestAccess call. AccessGranted is
// always true on a successful HTTP response; failure is transport-level
// only (spec.md 6).
type AccessResponse struct {
	AccessGranted    bool  `json:"access_granted"`
	LamportTimestamp int64 `json:"lamport_timestamp"`
}

// AccessRelease is the informational, fire-and-forget notification sent
// after a release.
type AccessRelease struct {
	ClientID         int    `json:"client_id"`
	LamportTimestamp int64  `json:"lamport_timestamp"`
	RequestNumber    uint64 `json:"request_number"`
}

// PrintRequest is the critical-section payload sent to the printer.
type PrintRequest struct {
	ClientID         int    `json:"client_id"`
	MessageContent   string `json:"message_content"`
	LamportTimestamp int64  `json:"lamport_timestamp"`
	RequestNumber    uint64 `json:"request_number"`
}

// PrintResponse is the printer's confirmation.
type PrintResponse struct {
	Success             bool   `json:"success"`
	ConfirmationMessage string `json:"confirmation_message"`
	LamportTimestamp    int64  `json:"lamport_timestamp"`
}
