// Package kernel contains the types and helpers shared by every kernel
// sub-system.
package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. Handlers that run in
// interrupt context cannot rely on the Go allocator so errors are never
// created via errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
