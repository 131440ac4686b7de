package track

import "os"

// currentPID reads the calling process's PID fresh on every call, so
// Tracker.forked can notice a post-fork child without ever installing
// a pthread_atfork-style hook: Go offers no safe hook point between
// fork and exec (goroutines and the scheduler do not survive a raw
// fork in a multi-threaded process), so detection is deferred to the
// first hot-path call made by the child instead.
func currentPID() int {
	return os.Getpid()
}
