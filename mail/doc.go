// Package mail defines the outbound message interface used to deliver
// one-time codes, plus a logging sender for development and a recording
// sender for tests. Transport (SMTP, provider APIs) lives outside fleetauth.
package mail
