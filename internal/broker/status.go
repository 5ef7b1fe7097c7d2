package broker

// Status is the lifecycle status of a loaded service.
//
//	(unloaded) -> Ready -> Started <-> Stopped -> (unloaded)
//
// Unload is accepted from any status.
type Status int32

const (
	StatusReady Status = iota
	StatusStarted
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
