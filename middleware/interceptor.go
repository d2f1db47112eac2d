package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Policy decides what an Interceptor does with matched requests.
type Policy string

const (
	// PolicyEnforce runs every guard in order and rejects on the first
	// failure.
	PolicyEnforce Policy = "enforce"
	// PolicyPassThrough forwards matched requests untouched.
	PolicyPassThrough Policy = "pass_through"
)

// Guard is one named check. Check returns the request to continue with,
// usually carrying values it resolved, or an error that rejects it.
type Guard struct {
	Name  string
	Check func(r *http.Request) (*http.Request, error)
}

// Config describes an Interceptor. Patterns are exact paths or prefixes
// ending in "*".
type Config struct {
	Policy   Policy
	Patterns []string
	Guards   []Guard
	Logger   *zap.Logger
}

// Interceptor applies one policy uniformly to every path it matches.
type Interceptor struct {
	policy   Policy
	exact    map[string]bool
	prefixes []string
	guards   []Guard
	logger   *zap.Logger
}

func New(cfg Config) (*Interceptor, error) {
	switch cfg.Policy {
	case PolicyEnforce, PolicyPassThrough:
	default:
		return nil, fmt.Errorf("middleware: unknown policy %q", cfg.Policy)
	}
	if len(cfg.Patterns) == 0 {
		return nil, errors.New("middleware: at least one pattern is required")
	}
	if cfg.Policy == PolicyEnforce && len(cfg.Guards) == 0 {
		return nil, errors.New("middleware: enforce policy requires at least one guard")
	}

	names := make(map[string]bool, len(cfg.Guards))
	for _, g := range cfg.Guards {
		if g.Name == "" || g.Check == nil {
			return nil, errors.New("middleware: guards need a name and a check")
		}
		if names[g.Name] {
			return nil, fmt.Errorf("middleware: duplicate guard %q", g.Name)
		}
		names[g.Name] = true
	}

	i := &Interceptor{
		policy: cfg.Policy,
		exact:  make(map[string]bool),
		guards: append([]Guard(nil), cfg.Guards...),
		logger: cfg.Logger,
	}
	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	for _, p := range cfg.Patterns {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("middleware: pattern %q must start with /", p)
		}
		if strings.HasSuffix(p, "*") {
			i.prefixes = append(i.prefixes, strings.TrimSuffix(p, "*"))
			continue
		}
		i.exact[cleanPath(p)] = true
	}
	return i, nil
}

// Matches reports whether p falls under one of the patterns. The path is
// cleaned first so dot segments cannot step around a prefix.
func (i *Interceptor) Matches(p string) bool {
	p = cleanPath(p)
	if i.exact[p] {
		return true
	}
	for _, prefix := range i.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
		if strings.HasSuffix(prefix, "/") && p == strings.TrimSuffix(prefix, "/") {
			return true
		}
	}
	return false
}

// Wrap returns next guarded by the interceptor.
func (i *Interceptor) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i.policy == PolicyPassThrough || !i.Matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		for _, g := range i.guards {
			checked, err := g.Check(r)
			if err != nil {
				i.logger.Debug("request rejected",
					zap.String("guard", g.Name),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				WriteError(w, err)
				return
			}
			if checked != nil {
				r = checked
			}
		}
		next.ServeHTTP(w, r)
	})
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
