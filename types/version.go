package types

// Version is the canonical dispipe version reported by the CLI, the ops
// server, and the tracer resource.
const Version = "0.3.0"

// ServiceName is the service identity used in logs and traces.
const ServiceName = "dispipe"
