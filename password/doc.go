// Package password hashes and verifies account passwords with argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login. The minimum length rule
// lives here as [CheckPolicy] so every write path enforces the same policy.
package password
