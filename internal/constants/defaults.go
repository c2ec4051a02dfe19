package constants

import "time"

// DefaultIPCTimeout bounds one CLI request to the daemon.
const DefaultIPCTimeout = 10 * time.Second

// DefaultStopTimeout is how long `scheduler stop` waits for the control loop.
const DefaultStopTimeout = 30 * time.Second

// DefaultLogLevel is used when the CLI runs without a config file.
const DefaultLogLevel = "info"
