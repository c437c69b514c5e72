// Package grblconn maintains a live conversation with a GRBL-class motion
// controller over a serial transport.
//
// The Connection facade owns the transport and composes the building blocks:
//
//   - StatusMonitor: a background polling loop that issues status queries,
//     parses the replies with the grbl package and keeps a bounded history
//     of snapshots, with optional adaptive poll timing.
//   - RecoveryController: a policy engine that classifies transport and
//     command failures and decides between reconnecting, retrying, resetting
//     the controller or aborting the job, within configured budgets.
//   - HealthPredictor: rolling health scores and early warnings aggregated
//     from recovery events and sustained successes.
//   - ConsoleLog: a capacity-bounded, severity-filtered record of the
//     command/response traffic.
//
// The transport is a single-owner resource: the status monitor and the
// command-send path serialize through one mutex, so exactly one
// request/response is in flight at a time.
package grblconn
