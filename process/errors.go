package process

import "errors"

// ErrSpawnFailed wraps operating-system level failures to start the kernel
// process.
var ErrSpawnFailed = errors.New("failed to spawn process")
