// Package render coordinates one-shot render operations executed by an
// out-of-process renderer.
//
// A Coordinator sends each request on a Channel and correlates the progress
// and result events that come back through Deliver. Every operation carries
// a stall timer: each progress event re-arms it, and if it fires before a
// result arrives the operation fails locally with a stall error. Each
// operation's Handle resolves exactly once, through whichever of result,
// stall, dispatch failure or coordinator teardown happens first. Events for
// operations that are no longer pending are logged and dropped.
package render
