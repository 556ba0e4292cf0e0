// Package message implements message creation and the delivery status
// machine. Incoming messages are born terminal (received, immutable);
// outgoing messages start pending and are handed to the durable job queue
// for delivery. @mention scanning and mention notifications happen at send
// time, in one batched agent lookup.
package message
