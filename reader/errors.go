package reader

import "fmt"

// CodedError is satisfied by every named error kind on the wire taxonomy,
// so callers can branch on Code() without string matching or a
// type switch over every concrete error type (abi's UnalignedPointer,
// InvalidLength, InvalidCapacity already satisfy it, as does schema's
// UnresolvedReference; the kinds defined here round out the set item
// readers and compound readers raise themselves: NotImplemented,
// TypeMismatch, AbstractType, CastError, InvalidField, InvalidDiscriminator).
type CodedError interface {
	error
	Code() string
}

// NotImplementedError marks a destination/schema-type combination no
// reader exists for.
type NotImplementedError struct {
	Destination string
	Schema      string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("reader: no reader for destination %s from schema %s", e.Destination, e.Schema)
}
func (e *NotImplementedError) Code() string { return "NotImplemented" }

// TypeMismatchError reports a destination Go type whose shape doesn't
// match what the schema type requires (wrong Kind, wrong element count,
// too-narrow an integer, ...).
type TypeMismatchError struct {
	Destination string
	Schema      string
	Reason      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("reader: %s does not match schema %s: %s", e.Destination, e.Schema, e.Reason)
}
func (e *TypeMismatchError) Code() string { return "TypeMismatch" }

// AbstractTypeError reports an attempt to instantiate a polymorphic base
// that has no concrete fallback and no dispatch match.
type AbstractTypeError struct {
	Base string
}

func (e *AbstractTypeError) Error() string { return fmt.Sprintf("reader: %s is abstract", e.Base) }
func (e *AbstractTypeError) Code() string  { return "AbstractType" }

// CastError reports a polymorphic down-cast that lands on a type the
// caller's destination cannot represent.
type CastError struct {
	From, To string
}

func (e *CastError) Error() string {
	return fmt.Sprintf("reader: cannot cast %s to %s", e.From, e.To)
}
func (e *CastError) Code() string { return "CastError" }

// InvalidFieldError wraps a field reader's failure with the compound and
// field name that failed; any field failure fails the enclosing compound
// read.
type InvalidFieldError struct {
	Compound string
	Field    string
	Err      error
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("reader: %s.%s: %v", e.Compound, e.Field, e.Err)
}
func (e *InvalidFieldError) Code() string { return "InvalidField" }
func (e *InvalidFieldError) Unwrap() error { return e.Err }

// InvalidDiscriminatorError reports a union discriminator outside
// [0, alternative count).
type InvalidDiscriminatorError struct {
	Union string
	Index int
	Count int
}

func (e *InvalidDiscriminatorError) Error() string {
	return fmt.Sprintf("reader: %s: discriminator %d out of range [0,%d)", e.Union, e.Index, e.Count)
}
func (e *InvalidDiscriminatorError) Code() string { return "InvalidDiscriminator" }

// SizeMax is the sentinel discriminator value meaning "leave the union
// empty, no error".
const SizeMax = ^uint(0)
