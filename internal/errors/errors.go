package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindChangeConflict     Kind = "CHANGE_CONFLICT"
	KindDirtyWorkspace     Kind = "DIRTY_WORKSPACE"
	KindArtifactExists     Kind = "ARTIFACT_ALREADY_EXISTS"
	KindBuildFailure       Kind = "BUILD_FAILURE"
	KindFingerprintMissing Kind = "FINGERPRINT_MISSING"
	KindPatchDrift         Kind = "PATCH_DRIFT"
	KindManifestConflict   Kind = "MANIFEST_CONFLICT"
	KindPublishFailure     Kind = "PUBLISH_FAILURE"
	KindInternal           Kind = "INTERNAL"
)

// Error is the only error type the pipeline surfaces to callers. State is
// the pipeline state the run was in when the failure happened; it is filled
// in by the state machine, not by the component that raised the error.
type Error struct {
	Kind    Kind   `json:"kind"`
	State   string `json:"state,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.State, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind from any error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// WithState stamps the pipeline state onto err if it is one of ours,
// otherwise wraps it as an internal error at that state.
func WithState(err error, state string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.State == "" {
			e.State = state
		}
		return err
	}
	return &Error{Kind: KindInternal, State: state, Message: err.Error(), Cause: err}
}

func ChangeConflict(ordinal int, ref string, cause error) *Error {
	return &Error{
		Kind:    KindChangeConflict,
		Message: fmt.Sprintf("change %d (%s) did not apply cleanly", ordinal, ref),
		Cause:   cause,
	}
}

func DirtyWorkspace(path string) *Error {
	return &Error{
		Kind:    KindDirtyWorkspace,
		Message: fmt.Sprintf("uncommitted changes in %s", path),
	}
}

func ArtifactExists(ref string) *Error {
	return &Error{
		Kind:    KindArtifactExists,
		Message: fmt.Sprintf("artifact ref %s already exists", ref),
	}
}

func BuildFailure(cause error) *Error {
	return &Error{
		Kind:    KindBuildFailure,
		Message: "build failed",
		Cause:   cause,
	}
}

func FingerprintMissing(marker string) *Error {
	return &Error{
		Kind:    KindFingerprintMissing,
		Message: fmt.Sprintf("marker %q not found in build output", marker),
	}
}

func PatchDrift(name, oldHash, newHash string) *Error {
	return &Error{
		Kind:    KindPatchDrift,
		Message: fmt.Sprintf("patch %s drifted from published content (%s -> %s)", name, short(oldHash), short(newHash)),
	}
}

func ManifestConflict(name string) *Error {
	return &Error{
		Kind:    KindManifestConflict,
		Message: fmt.Sprintf("manifest entry %s exists with different provenance", name),
	}
}

func PublishFailure(cause error) *Error {
	return &Error{
		Kind:    KindPublishFailure,
		Message: "publish failed",
		Cause:   cause,
	}
}

func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
