package mail

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Template IDs understood by the delivery service.
const (
	TemplateSignupCode = "otp-signup"
	TemplateResetCode  = "otp-reset"
)

// ErrNotConfigured is returned by senders with no transport behind them.
var ErrNotConfigured = errors.New("mail: sender not configured")

// Sender delivers a templated message. vars are substituted by the
// delivery service; implementations must not log their values.
type Sender interface {
	SendMessage(ctx context.Context, to, templateID string, vars map[string]string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, templateID string, vars map[string]string) error

func (f SenderFunc) SendMessage(ctx context.Context, to, templateID string, vars map[string]string) error {
	return f(ctx, to, templateID, vars)
}

// LogSender writes messages to a zap logger instead of delivering them.
// Only variable names are logged unless Reveal is set, which exists for
// local development where no mail transport runs.
type LogSender struct {
	logger *zap.Logger
	reveal bool
}

// NewLogSender returns a LogSender on logger.
func NewLogSender(logger *zap.Logger, reveal bool) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("mail"), reveal: reveal}
}

func (s *LogSender) SendMessage(_ context.Context, to, templateID string, vars map[string]string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := []zap.Field{
		zap.String("to", to),
		zap.String("template", templateID),
		zap.Strings("vars", keys),
	}
	if s.reveal {
		fields = append(fields, zap.Any("values", vars))
	}
	s.logger.Info("mail message", fields...)
	return nil
}

// Message is one recorded send.
type Message struct {
	To         string
	TemplateID string
	Vars       map[string]string
}

// Recorder keeps every message in memory. It can be told to fail so
// delivery errors can be exercised.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	fail     error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendMessage(_ context.Context, to, templateID string, vars map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail != nil {
		return r.fail
	}
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	r.messages = append(r.messages, Message{To: to, TemplateID: templateID, Vars: copied})
	return nil
}

// FailWith makes every later send return err. A nil err restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the most recent message to `to` with the given template.
func (r *Recorder) Last(to, templateID string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].To == to && r.messages[i].TemplateID == templateID {
			return r.messages[i], true
		}
	}
	return Message{}, false
}
