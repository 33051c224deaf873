package fixture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-fixture/pkg/state"
)

var (
	// ErrConfigurationConflict reports a scope declaration that cannot be
	// honoured. It is raised before any fixture is built.
	ErrConfigurationConflict = errors.New("fixture: configuration conflict")
	// ErrAssembly reports that the application could not be assembled.
	ErrAssembly = errors.New("fixture: assembly failed")
	// ErrDescriptorNotFound reports that discovery found no descriptor.
	ErrDescriptorNotFound = errors.New("fixture: application descriptor not found")
	// ErrDescriptorExists reports a second registration under one name.
	ErrDescriptorExists = errors.New("fixture: descriptor already registered")
	// ErrAmbiguousDescriptor reports that discovery found several descriptors.
	ErrAmbiguousDescriptor = errors.New("fixture: ambiguous application descriptor")
	// ErrInjection reports a failure populating a target instance.
	ErrInjection = errors.New("fixture: injection failed")
	// ErrTypeMismatch reports a tagged field whose type cannot hold the value.
	ErrTypeMismatch = errors.New("fixture: type mismatch")
	// ErrIllegalState reports an operation invalid for the composer state.
	ErrIllegalState = errors.New("fixture: illegal state")
	// ErrRelease reports that one or more teardown steps failed.
	ErrRelease = errors.New("fixture: release failed")
	// ErrDuplicateKey reports a second write to an occupied store slot.
	ErrDuplicateKey = state.ErrDuplicateKey
)

// ConfigurationConflictError describes why a node's scope is rejected.
type ConfigurationConflictError struct {
	Node   string
	Scope  Scope
	Reason string
}

func (e *ConfigurationConflictError) Error() string {
	return fmt.Sprintf("fixture: configuration conflict at %q (scope %s): %s", e.Node, e.Scope, e.Reason)
}

func (e *ConfigurationConflictError) Is(target error) bool {
	return target == ErrConfigurationConflict
}

// AssemblyError wraps the failure to produce an application.
type AssemblyError struct {
	Descriptor string
	Err        error
}

func (e *AssemblyError) Error() string {
	if e.Descriptor == "" {
		return fmt.Sprintf("fixture: assembly failed: %v", e.Err)
	}
	return fmt.Sprintf("fixture: assembly of %q failed: %v", e.Descriptor, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

func (e *AssemblyError) Is(target error) bool {
	return target == ErrAssembly
}

// AmbiguousDescriptorError lists the competing descriptors found by discovery.
type AmbiguousDescriptorError struct {
	Root       string
	Candidates []string
}

func (e *AmbiguousDescriptorError) Error() string {
	return fmt.Sprintf("fixture: ambiguous application descriptor under %q: %s (set FIXTURE_APPLICATION or declare one explicitly)",
		e.Root, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousDescriptorError) Is(target error) bool {
	return target == ErrAmbiguousDescriptor || target == ErrAssembly
}

// InjectionError wraps a failure to populate one target.
type InjectionError struct {
	Target string
	Field  string
	Err    error
}

func (e *InjectionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("fixture: inject %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("fixture: inject %s.%s: %v", e.Target, e.Field, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

func (e *InjectionError) Is(target error) bool {
	return target == ErrInjection
}

// TypeMismatchError reports a tagged field that cannot hold the value.
type TypeMismatchError struct {
	Target string
	Field  string
	Want   string
	Got    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("fixture: field %s.%s of type %s cannot hold %s", e.Target, e.Field, e.Want, e.Got)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch || target == ErrInjection
}

// IllegalStateError reports an operation attempted in the wrong composer
// state.
type IllegalStateError struct {
	Op    string
	State ComposerState
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("fixture: cannot %s composer in state %s", e.Op, e.State)
}

func (e *IllegalStateError) Is(target error) bool {
	return target == ErrIllegalState
}

// ReleaseError aggregates every teardown failure of one or more releases.
type ReleaseError struct {
	Errs []error
}

func (e *ReleaseError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("fixture: release failed: %v", e.Errs[0])
	}
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("fixture: %d release failures: %s", len(e.Errs), strings.Join(parts, "; "))
}

func (e *ReleaseError) Unwrap() []error { return e.Errs }

func (e *ReleaseError) Is(target error) bool {
	return target == ErrRelease
}

// newReleaseError flattens errs (including joined errors and nested release
// errors) and returns nil when nothing failed.
func newReleaseError(errs ...error) error {
	var flat []error
	for _, err := range errs {
		flat = appendFlattened(flat, err)
	}
	if len(flat) == 0 {
		return nil
	}
	return &ReleaseError{Errs: flat}
}

func appendFlattened(dst []error, err error) []error {
	if err == nil {
		return dst
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			dst = appendFlattened(dst, inner)
		}
		return dst
	}
	return append(dst, err)
}
