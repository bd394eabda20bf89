package alerting

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// EmailRequest is a single outbound e-mail.
type EmailRequest struct {
	From    string
	To      []string
	Subject string
	Body    string
	HTML    string
}

// EmailProvider is one e-mail backend (resend, ses, ...).
type EmailProvider interface {
	Name() string
	Send(ctx context.Context, req *EmailRequest) error
	IsConfigured() bool
}

// ProviderRegistry picks a primary e-mail provider and falls back in order.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]EmailProvider
	primary   string
	fallback  []string
	logger    zerolog.Logger
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry(logger zerolog.Logger) *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]EmailProvider),
		logger:    logger.With().Str("component", "email_registry").Logger(),
	}
}

// Register adds a provider under its own name.
func (r *ProviderRegistry) Register(p EmailProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	r.logger.Debug().Str("provider", p.Name()).Bool("configured", p.IsConfigured()).Msg("registered email provider")
}

// SetPrimary selects the provider tried first.
func (r *ProviderRegistry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("email provider %q not registered", name)
	}
	r.primary = name
	return nil
}

// SetFallback sets the ordered fallback list.
func (r *ProviderRegistry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("email provider %q not registered", name)
		}
	}
	r.fallback = append([]string(nil), names...)
	return nil
}

func (r *ProviderRegistry) candidates() []EmailProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []EmailProvider
	for _, name := range append([]string{r.primary}, r.fallback...) {
		p, ok := r.providers[name]
		if !ok || seen[name] || !p.IsConfigured() {
			continue
		}
		seen[name] = true
		out = append(out, p)
	}
	return out
}

// Send tries the primary, then each configured fallback, and returns the
// first provider's error if all of them fail.
func (r *ProviderRegistry) Send(ctx context.Context, req *EmailRequest) error {
	providers := r.candidates()
	if len(providers) == 0 {
		return fmt.Errorf("no configured email provider available")
	}

	var firstErr error
	for i, p := range providers {
		err := p.Send(ctx, req)
		if err == nil {
			if i > 0 {
				r.logger.Warn().Str("provider", p.Name()).Msg("邮件已通过备用通道发送")
			}
			return nil
		}
		r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("邮件发送失败")
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
