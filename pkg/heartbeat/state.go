package heartbeat

// SystemState is the agent's top-level lifecycle state. The controller
// owns every transition.
type SystemState string

const (
	StateUninitialized SystemState = "uninitialized"
	StateInitialized   SystemState = "initialized"
	StateRunning       SystemState = "running"
	StateDegraded      SystemState = "degraded"
	StateRenewing      SystemState = "renewing"
	StateStopped       SystemState = "stopped"
)
