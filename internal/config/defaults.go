package config

// DefaultAddr is the default listen address for the UI bridge server.
const DefaultAddr = "127.0.0.1:7171"

// DefaultRestartPolicy is the crash restart policy used when none is configured.
const DefaultRestartPolicy = "immediate"
