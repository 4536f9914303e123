package supervisor

import "fmt"

// LaunchError reports why the worker could not be started.
type LaunchError struct {
	Stage string // locate, config or spawn
	Err   error
}

func (e *LaunchError) Error() string {
	switch e.Stage {
	case "spawn":
		return fmt.Sprintf("failed to spawn goblin runtime: %v", e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *LaunchError) Unwrap() error { return e.Err }
