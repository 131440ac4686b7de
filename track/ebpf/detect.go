// Package ebpf realizes the tracker's "activation hook" abstraction
// using uprobes attached to a traced process's allocator entry points
// instead of the original's LD_PRELOAD shim.
package ebpf

import "os"

// Capability describes what uprobe-based interception is available on
// this host, mirroring the style of a capability probe rather than
// failing opaquely deep inside an attach call.
type Capability struct {
	Available bool
	HasRoot   bool
	Reason    string
}

// Detect checks whether this process can attach uprobes: it needs
// root (or CAP_BPF+CAP_PERFMON) and a kernel new enough to support
// uprobe-based BPF_PROG_TYPE_KPROBE programs, which in practice means
// the /sys/kernel/debug/tracing/uprobe_events control file exists.
func Detect() Capability {
	cap := Capability{}
	if os.Geteuid() == 0 {
		cap.HasRoot = true
	}
	if !cap.HasRoot {
		cap.Reason = "root privileges required to attach uprobes"
		return cap
	}
	if _, err := os.Stat("/sys/kernel/debug/tracing/uprobe_events"); err != nil {
		if _, err := os.Stat("/sys/kernel/tracing/uprobe_events"); err != nil {
			cap.Reason = "kernel uprobe support not found"
			return cap
		}
	}
	cap.Available = true
	return cap
}
