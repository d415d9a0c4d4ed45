package domain

import (
	"errors"
	"fmt"
)

// FailureKind classifies stage failures. Download and correction failures
// end the item; every other kind has a defined fallback.
type FailureKind int

const (
	FailureDownload FailureKind = iota + 1
	FailureCorrection
	FailureVision
	FailureBackground
	FailureUpload
	FailureGeneration
	FailureFrameMiss
)

var kindNames = map[FailureKind]string{
	FailureDownload:   "download",
	FailureCorrection: "correction",
	FailureVision:     "vision",
	FailureBackground: "background",
	FailureUpload:     "upload",
	FailureGeneration: "generation",
	FailureFrameMiss:  "frame_miss",
}

func (k FailureKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("failure(%d)", int(k))
}

// Fatal reports whether a failure of this kind aborts the whole item.
func (k FailureKind) Fatal() bool {
	return k == FailureDownload || k == FailureCorrection
}

// Sentinel errors wrapped by StageError.
var (
	ErrCorrectionFailed = errors.New("correction failed")
	ErrDownloadFailed   = errors.New("download failed")
	ErrNoFrame          = errors.New("no usable frame found")
)

// StageError records which pipeline stage failed and why.
type StageError struct {
	Kind  FailureKind
	Stage string
	Err   error
}

// NewStageError wraps err with its failure kind and stage name.
func NewStageError(kind FailureKind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err, or 0 if err carries none.
func KindOf(err error) FailureKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsFatal reports whether err should end the item.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}
