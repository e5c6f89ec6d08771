// Package errors provides the error taxonomy for tarsync.
// Every fatal condition in a run is classified by a Kind so that callers can
// report it distinctly and map it to a process exit status.
package errors

// Kind classifies the stage of a run an error belongs to.
// Kinds are string-based for debuggability and natural log output.
type Kind string

const (
	// KindAuth indicates a missing or rejected access credential.
	KindAuth Kind = "AUTH"

	// KindValidation indicates an input file that cannot be processed,
	// such as an unsupported archive suffix.
	KindValidation Kind = "VALIDATION"

	// KindFetch indicates the current master archive could not be downloaded.
	// A missing remote object is not a fetch error.
	KindFetch Kind = "FETCH"

	// KindMerge indicates a local I/O failure while extracting or re-packing.
	KindMerge Kind = "MERGE"

	// KindTransport indicates a remote failure while uploading, including
	// failures in the middle of an upload session.
	KindTransport Kind = "TRANSPORT"

	// KindConfig indicates invalid configuration or command-line usage.
	KindConfig Kind = "CONFIG"

	// KindUnknown is reported for errors that carry no Kind.
	KindUnknown Kind = "UNKNOWN"
)

// String returns the kind identifier.
func (k Kind) String() string {
	return string(k)
}

// Label returns a short human-readable description used in status lines.
func (k Kind) Label() string {
	switch k {
	case KindAuth:
		return "authentication failed"
	case KindValidation:
		return "invalid input"
	case KindFetch:
		return "download failed"
	case KindMerge:
		return "archive update failed"
	case KindTransport:
		return "upload failed"
	case KindConfig:
		return "invalid configuration"
	default:
		return "unexpected error"
	}
}
