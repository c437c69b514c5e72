// Package grbl implements the wire-level protocol of GRBL-class motion
// controllers: the real-time status telegram parser, the immutable status
// data model, acknowledgement classification and pure analytics over an
// ordered sequence of status snapshots.
//
// A status telegram is a bracketed, pipe-delimited message returned for a
// status poll, e.g.:
//
//	<Idle|MPos:0.000,0.000,0.000|FS:0,0|Ov:100,100,100>
//
// The parser supports the v1.0 report fields (MPos, FS, Ov), the v1.1
// additions (WPos, WCO, Buf, Rx, Line) and ignores unknown keys for forward
// compatibility. It is total over arbitrary UTF-8 input: any input yields
// either a *MachineStatus or a wrapped sentinel error, never a panic.
//
// Everything in this package is pure and safe for concurrent callers; the
// live-connection machinery lives in the grblconn package.
package grbl
