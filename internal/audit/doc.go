// Package audit relays security events to a sink off the request path.
//
// [Dispatcher] buffers events and forwards them from one goroutine. [ZapSink]
// logs each event through zap; [ChannelSink] exposes events to tests.
package audit
