// Package automation evaluates event-triggered rules against conversation
// snapshots and executes their actions through the conversation engine as
// the system principal. Every evaluation, matched or not, leaves an audit
// row. Cascade depth caps rule-triggered-rule chains.
package automation
