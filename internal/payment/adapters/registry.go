package adapters

import (
	"sort"
	"strings"

	"github.com/smallbiznis/coursemart/internal/payment/domain"
)

// Registry resolves the webhook adapter for a provider name. Names are
// matched case-insensitively.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := normalize(f.Provider()); name != "" {
			r.factories[name] = f
		}
	}
	return r
}

// Adapter builds a verified adapter for provider, or ErrProviderNotFound for
// providers that only settle through the gateway (mock, sbp, bnpl).
func (r *Registry) Adapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	f, ok := r.factories[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return f.NewAdapter(cfg)
}

// Providers lists the registered names, sorted.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
