// Package provider abstracts config sources. Providers load raw config
// bytes from a file or a remote KV store and can watch for changes.
package provider

import (
	"context"
	"fmt"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the provider type for logging.
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch starts watching for changes and signals via the returned
	// channel. Cancel the context to stop watching. Returns a nil channel
	// if watching is not supported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Options configures provider creation.
type Options struct {
	// Type selects the provider (file, consul, etcd, zookeeper).
	Type Type

	// Path is the config location: a file path or a KV key.
	Path string

	// Endpoints for remote providers. Defaults to the conventional
	// localhost address per store.
	Endpoints []string
}

func (o *Options) endpointsOrDefault() []string {
	if len(o.Endpoints) > 0 {
		return o.Endpoints
	}
	switch o.Type {
	case TypeConsul:
		return []string{"localhost:8500"}
	case TypeEtcd:
		return []string{"localhost:2379"}
	case TypeZookeeper:
		return []string{"localhost:2181"}
	default:
		return nil
	}
}

// New creates a Provider from Options.
func New(opts Options) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts.endpointsOrDefault(), opts.Path)
	case TypeEtcd:
		return NewEtcdProvider(opts.endpointsOrDefault(), opts.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(opts.endpointsOrDefault(), opts.Path)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}
