// Package vmm implements the page-table mapper for the amd64 4-level paging
// scheme and the trap entry points for page and general protection faults.
//
// The active page directory table maps itself through its last entry, so
// every page table in the active hierarchy is reachable at a fixed virtual
// address that is derived from the address it translates.
package vmm

// Init installs the handlers for paging-related exceptions. Page faults are
// routed to the resolver registered with SetFaultResolver.
func Init() {
	installFaultHandlers()
}
