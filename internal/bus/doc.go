// Package bus provides the in-process message plumbing the reader runs on:
// a Publisher port, a Mailbox that serializes handler invocations on a single
// goroutine, and a Timer for delayed republish.
//
// The reader core never blocks and holds no locks; it relies on the mailbox
// to deliver every message (read completions, timer fires, control calls) on
// one logical thread. Handlers return an error only for protocol violations,
// which stop the mailbox loop and surface through Wait.
package bus
