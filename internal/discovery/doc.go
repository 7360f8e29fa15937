// Package discovery finds device agents on the network.
//
// The Coordinator probes candidate addresses (usually produced by package
// addrspace) with GET /api/device and records every device that answers:
//
//	coord := discovery.NewCoordinator(deviceapi.NewClient(), nil)
//	coord.SetSink(reg)
//	n := coord.ProbeMany(ctx, addrspace.ExpandIP([4]string{"192", "168", "1", "*"}))
//	fmt.Println(discovery.Summary(n))
//
// Probes of a batch run concurrently with no cap and the batch returns when
// every probe has finished. A failed probe only means the address is absent;
// it never marks anything offline. Reconciliation of known devices is the
// registry's job.
//
// Two cheaper feeds exist for large address spaces:
//   - MDNSScanner browses for the "_cogmote._tcp" service and returns the
//     advertising hosts
//   - PortChecker dials port 9012 on every candidate and keeps only those
//     that accept a TCP connection
//
// # Network Requirements
//
// mDNS needs multicast on the local segment and UDP port 5353 open.
package discovery
