package supervisor

import "fmt"

// PortInUseError rejects a launch whose port is already reserved by another
// local instance.
type PortInUseError struct{ Port int }

func (e PortInUseError) Error() string {
	return fmt.Sprintf("port %d is already in use by another instance", e.Port)
}

// IsPortInUse reports whether err is a port reservation conflict.
func IsPortInUse(err error) bool {
	_, ok := err.(PortInUseError)
	return ok
}

// InvalidPortError rejects a launch with an out-of-range port.
type InvalidPortError struct{ Port int }

func (e InvalidPortError) Error() string {
	return fmt.Sprintf("invalid port %d", e.Port)
}

// IsInvalidPort reports whether err is an out-of-range port rejection.
func IsInvalidPort(err error) bool {
	_, ok := err.(InvalidPortError)
	return ok
}

// UnknownInstanceError signals that no instance has the given id.
type UnknownInstanceError struct{ ID string }

func (e UnknownInstanceError) Error() string {
	return "unknown instance: " + e.ID
}

// IsUnknownInstance reports whether err refers to a missing instance id.
func IsUnknownInstance(err error) bool {
	_, ok := err.(UnknownInstanceError)
	return ok
}

// SpawnError wraps a synchronous process start failure. No instance exists
// when this is returned.
type SpawnError struct {
	Bin string
	Err error
}

func (e SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Bin, e.Err)
}

func (e SpawnError) Unwrap() error { return e.Err }

// IsSpawn reports whether err is a process start failure.
func IsSpawn(err error) bool {
	_, ok := err.(SpawnError)
	return ok
}
