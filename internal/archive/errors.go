package archive

import "fmt"

// MalformedArchiveError reports structural corruption: a bad tar stream, a
// missing member or a checksum mismatch.
type MalformedArchiveError struct {
	Reason string
	Err    error
}

func (e *MalformedArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed relocation archive: %s: %v", e.Reason, e.Err)
	}
	return "malformed relocation archive: " + e.Reason
}

func (e *MalformedArchiveError) Unwrap() error { return e.Err }

// DecryptionError reports that the archive is well formed but could not be
// opened with the available key.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt relocation archive: %s: %v", e.Reason, e.Err)
	}
	return "decrypt relocation archive: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	return &MalformedArchiveError{Reason: reason, Err: err}
}
