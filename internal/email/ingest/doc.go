// Package ingest turns inbound email into conversations and messages. A
// per-inbox poller fetches new mail over IMAP under a distributed lock,
// parses each message, resolves the sender to a contact, threads replies by
// the [#N] subject tag, and records every attempt in the email processing
// log. Each email is processed in isolation; one bad message never stalls
// the inbox.
package ingest
