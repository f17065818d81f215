package archive

import "fmt"

// Error codes for extraction and mount failures. Callers branch on these.
const (
	CodeZipExtractFailed  = 200
	CodeTBZExtractFailed  = 201
	CodeMountUnparseable  = 202
	CodeNoMountPoint      = 203
	CodeSLAConvertFailed  = 204
	CodeDetachFailed      = 205
	CodeWorkDirUnwritable = 206
)

// ExtractionError reports an archive tool failure. Output carries the
// tool's combined output for diagnosis.
type ExtractionError struct {
	Code   int
	Tool   string
	Path   string
	Output string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction error %d: %s failed for %s: %v (output: %s)",
		e.Code, e.Tool, e.Path, e.Err, e.Output)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// MountError reports a disk-image mount or conversion failure.
type MountError struct {
	Code    int
	Path    string
	Message string
	Err     error
}

func (e *MountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mount error %d: %s: %s: %v", e.Code, e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("mount error %d: %s: %s", e.Code, e.Path, e.Message)
}

func (e *MountError) Unwrap() error { return e.Err }
