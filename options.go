package scankit

import (
	"github.com/gobeaver/scankit/threatscan"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithPolicy replaces the default policy snapshot.
func WithPolicy(pol threatscan.Policy) Option {
	return func(e *Engine) {
		e.policy = pol
	}
}

// WithPolicyFile loads a YAML policy file over the defaults. Load failures
// leave the defaults in place; use threatscan.LoadPolicyFile directly when
// the failure must be surfaced.
func WithPolicyFile(path string) Option {
	return func(e *Engine) {
		if pol, err := threatscan.LoadPolicyFile(path); err == nil {
			e.policy = pol
		}
	}
}

// WithReporter replaces the default logrus reporter.
func WithReporter(r Reporter) Option {
	return func(e *Engine) {
		if r != nil {
			e.reporter = r
		}
	}
}

// WithSignatures prepends caller-supplied signatures to the identification
// table. Custom signatures win over the built-ins.
func WithSignatures(sigs ...threatscan.Signature) Option {
	return func(e *Engine) {
		e.ident = threatscan.NewIdentifier(sigs...)
	}
}
