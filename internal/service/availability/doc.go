// Package availability drives agent presence: the activity heartbeat, the
// explicit away states, and the two periodic sweeps (online -> away on
// inactivity, away -> offline past the max-idle threshold). Entering
// away_and_reassigning bulk-unassigns the agent's open and snoozed
// conversations, keeping team assignments intact.
package availability
