package normalize

import "fmt"

// Locate error codes: one per (container kind × target kind) combination,
// so "no .app in ZIP" is distinguishable from "no .app in mounted DMG"
// in logs and caller branches.
const (
	CodeNoPKGInZip      = 300
	CodeNoDMGInZip      = 301
	CodeNoPKGInDMG      = 302
	CodeNoAppInZip      = 303
	CodeNoAppInTBZ      = 304
	CodeNoAppInDMG      = 305
	CodeNoPKGInDMGInZip = 306
	CodeNoAppInDMGInZip = 307
)

// Consistency error codes (dual-arch path only).
const (
	CodeDualVersionMismatch = 500
	CodeDualCountMismatch   = 501
)

// LocateError reports that no file of the expected kind was found inside a
// container.
type LocateError struct {
	Code      int
	Container string
	Target    string
	Root      string
}

func (e *LocateError) Error() string {
	return fmt.Sprintf("locate error %d: no .%s found in %s (searched %s)", e.Code, e.Target, e.Container, e.Root)
}

// SignatureError reports the security gate rejecting an artifact. Fatal,
// never retried, never skippable.
type SignatureError struct {
	Path           string
	ExpectedTeamID string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("security error 400: signature of %s rejected or team ID does not match %s", e.Path, e.ExpectedTeamID)
}

// ConsistencyError reports a dual-arch invariant violation.
type ConsistencyError struct {
	Code    int
	Message string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error %d: %s", e.Code, e.Message)
}
