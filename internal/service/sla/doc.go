// Package sla applies response and resolution policies to conversations and
// tracks their deadlines. Deadline progression is event-driven: agent
// replies and resolutions mark pending deadlines met, incoming customer
// messages open rolling next-response deadlines. A leader-elected sweeper
// flips overdue deadlines to breached exactly once.
package sla
