// Package scanning provides the concurrent TCP connect scan engine of portsweep.
//
// The engine works at two levels. The Coordinator runs a fixed-size worker pool
// where one job sweeps one host end to end. Inside a job, the HostScanner
// drives non-blocking connects for that host's ports through a single Poller.
// On Linux the Poller is an epoll reactor and a sweep needs no goroutine per
// port.
//
// # Main Components
//
// ## Host sweep
//
//   - HostScanner: starts connects for up to Options.MaxInFlight ports, waits
//     for readiness with Options.IdleTimeout, and records ports whose socket
//     has a peer address as open
//   - Poller: the readiness reactor owning the sockets of one sweep. Linux
//     uses epoll. Other platforms get a portable fallback with the same
//     contract that runs one cancellable dial goroutine per pending connect,
//     bounded by the in-flight window
//   - SocketBudget: a process-wide cap on open scan sockets derived from
//     RLIMIT_NOFILE
//
// ## Service identification
//
// Open ports are labelled through a ServiceIdentifier. LsofIdentifier asks
// lsof which process listens on the port; any failure yields "Unknown" and
// never aborts the sweep.
//
// ## Coordination
//
// Coordinator.Run returns a Report keyed by host. Each job owns its HostResult
// until the coordinator collects it, so merging never races. A host whose job
// fails or panics is logged and listed in Report.Failures.
//
// # Usage Examples
//
//	ports, _ := targets.ParsePortRange("20-80")
//	hosts, _ := targets.ExpandTargets("192.168.1.0/24")
//
//	scanner := scanning.NewHostScanner(scanning.DefaultOptions(),
//		scanning.WithIdentifier(scanning.NewLsofIdentifier(0)))
//	coordinator := scanning.NewCoordinator(scanner, scanning.CoordinatorConfig{}, nil, nil)
//
//	report, err := coordinator.Run(ctx, hosts, ports)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Termination
//
// A sweep never waits longer than one idle interval without progress. When a
// wait returns no events, every socket still pending in the current window is
// treated as filtered and closed, and the sweep continues with the ports that
// have not been attempted yet.
package scanning
