// Package credential stores user accounts and their login history and
// verifies passwords against argon2id hashes.
//
// [Store] holds the rules: email normalization, the password length policy,
// uniform [ErrInvalidCredentials] for every failed login, and one appended
// [LoginRecord] per attempt. Persistence sits behind [UserRepository] and
// [HistoryRepository], with an in-memory and a Postgres implementation.
package credential
