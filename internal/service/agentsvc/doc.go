// Package agentsvc manages agent accounts: creation, credential login and
// logout, and password reset. Login and reset attempts are rate limited per
// case-folded email so limits follow the account rather than the client
// address. Password reset atomically swaps the hash and revokes every
// session of the user.
package agentsvc
