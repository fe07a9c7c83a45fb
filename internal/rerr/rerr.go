// Package rerr is the error taxonomy for the service (§7). Each kind
// is its own struct type, following the teacher's pattern of explicit
// error structs with a descriptive Error() method rather than bare
// errors.New strings, so callers can recover structured fields with
// errors.As instead of parsing messages.
package rerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvalidOption is returned when an option write fails validation.
type InvalidOption struct {
	Key    string
	Reason string
}

func (e *InvalidOption) Error() string {
	return fmt.Sprintf("invalid option %q: %s", e.Key, e.Reason)
}

// UnknownOption is returned when a read or write names an
// unrecognized option key.
type UnknownOption struct {
	Key string
}

func (e *UnknownOption) Error() string {
	return fmt.Sprintf("unknown option %q", e.Key)
}

// DuplicateFile is returned by add_file when the name is already in
// use.
type DuplicateFile struct {
	Name string
}

func (e *DuplicateFile) Error() string {
	return fmt.Sprintf("file already added: %s", e.Name)
}

// MissingFile is returned when an operation references a file name
// that was never added, or was already removed.
type MissingFile struct {
	Name string
}

func (e *MissingFile) Error() string {
	return fmt.Sprintf("no such file opened: %s", e.Name)
}

// ArchitectureMismatch is returned when add_file's new loader
// disagrees with the architecture already shared by every loaded
// file, or when set_architecture would break that invariant (§9 open
// question 1).
type ArchitectureMismatch struct {
	Existing string
	Incoming string
}

func (e *ArchitectureMismatch) Error() string {
	return fmt.Sprintf("architecture mismatch: loaded files use %s, incoming is %s", e.Existing, e.Incoming)
}

// BadBytesMalformed is returned when a badbytes value is not an
// even-length hex string.
type BadBytesMalformed struct {
	Reason string
}

func (e *BadBytesMalformed) Error() string {
	return fmt.Sprintf("malformed badbytes: %s", e.Reason)
}

// AddressNotMapped is returned by disassemble_at when no executable
// section covers the requested address.
type AddressNotMapped struct {
	Address uint64
}

func (e *AddressNotMapped) Error() string {
	return fmt.Sprintf("address not mapped: 0x%x", e.Address)
}

// UnsupportedChain is returned when no chain generator exists for an
// architecture/chain-name combination.
type UnsupportedChain struct {
	Arch  string
	Chain string
}

func (e *UnsupportedChain) Error() string {
	return fmt.Sprintf("%s does not support %s chain generation", e.Arch, e.Chain)
}

// NoDisassembler is returned by any operation that needs the external
// disassembler collaborator when none was wired into the service.
type NoDisassembler struct{}

func (e *NoDisassembler) Error() string {
	return "no disassembler backend registered"
}

// LoaderError wraps a failure from the external loader collaborator,
// preserving the original cause (§7: "wrap collaborator failures
// verbatim").
type LoaderError struct {
	cause error
}

// WrapLoaderError wraps err as a LoaderError, or returns nil if err is nil.
func WrapLoaderError(err error) error {
	if err == nil {
		return nil
	}
	return &LoaderError{cause: errors.Wrap(err, "loader")}
}

func (e *LoaderError) Error() string { return e.cause.Error() }
func (e *LoaderError) Unwrap() error { return e.cause }

// DisassemblerError wraps a failure from the external disassembler
// collaborator.
type DisassemblerError struct {
	cause error
}

// WrapDisassemblerError wraps err as a DisassemblerError, or returns
// nil if err is nil.
func WrapDisassemblerError(err error) error {
	if err == nil {
		return nil
	}
	return &DisassemblerError{cause: errors.Wrap(err, "disassembler")}
}

func (e *DisassemblerError) Error() string { return e.cause.Error() }
func (e *DisassemblerError) Unwrap() error { return e.cause }

// SubscriberFailed wraps a panic or error raised by a caller-supplied
// progress subscriber (§5, §7): subscriber failures abort the
// enclosing operation rather than being swallowed.
type SubscriberFailed struct {
	cause error
}

// WrapSubscriberFailed wraps err as a SubscriberFailed, or returns
// nil if err is nil.
func WrapSubscriberFailed(err error) error {
	if err == nil {
		return nil
	}
	return &SubscriberFailed{cause: errors.Wrap(err, "progress subscriber")}
}

func (e *SubscriberFailed) Error() string { return e.cause.Error() }
func (e *SubscriberFailed) Unwrap() error { return e.cause }
