// Package rate implements fixed-window Redis counters for failed logins and
// one-time code requests.
//
// Each counter is INCR plus EXPIRE on the first hit. Key prefixes:
//   - frl:e:  failed logins per email
//   - frl:ip: failed logins per client IP
//   - frc:    code requests per purpose and email
package rate
