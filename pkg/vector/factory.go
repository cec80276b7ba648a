package vector

import (
	"fmt"
	"sync"

	"github.com/atriumhq/atrium/pkg/config"
)

// ProviderType identifies a vector provider implementation.
type ProviderType string

const (
	// TypePinecone uses the managed Pinecone service.
	TypePinecone ProviderType = "pinecone"

	// TypeChroma uses a Chroma server over HTTP.
	TypeChroma ProviderType = "chroma"

	// TypePgvector uses Postgres/pgvector through a REST sidecar.
	TypePgvector ProviderType = "pgvector"

	// TypeChromem uses chromem-go for embedded storage. Zero-config, best
	// for development and small deployments.
	TypeChromem ProviderType = "chromem"

	// TypeQdrant uses a Qdrant server over gRPC.
	TypeQdrant ProviderType = "qdrant"
)

// NewProvider builds the provider an agent's retrieval section names,
// taking credentials and endpoints from the service-wide backends section.
func NewProvider(rc *config.RetrievalConfig, backends config.RetrievalBackends) (Provider, error) {
	if rc == nil {
		return nil, fmt.Errorf("retrieval config is required")
	}

	switch ProviderType(rc.Provider) {
	case TypePinecone:
		return NewPinecone(PineconeConfig{
			APIKey:    backends.PineconeAPIKey,
			Namespace: rc.Namespace,
		})
	case TypeChroma:
		return NewChroma(ChromaConfig{URL: backends.ChromaURL})
	case TypePgvector:
		return NewPgvector(PgvectorConfig{URL: backends.PgvectorURL})
	case TypeChromem:
		return NewChromem(ChromemConfig{Path: backends.ChromemPath})
	case TypeQdrant:
		return NewQdrant(QdrantConfig{
			Host:   backends.Qdrant.Host,
			Port:   backends.Qdrant.Port,
			APIKey: backends.Qdrant.APIKey,
			UseTLS: backends.Qdrant.UseTLS,
		})
	default:
		return nil, fmt.Errorf("unknown vector provider %q", rc.Provider)
	}
}

// Registry holds named providers so connections can be shared and closed
// together.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under a name. Registering the same name twice is
// an error.
func (r *Registry) Register(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns all registered names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Close closes every registered provider and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %q: %w", name, err))
		}
	}
	r.providers = make(map[string]Provider)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing providers: %v", errs)
	}
	return nil
}
