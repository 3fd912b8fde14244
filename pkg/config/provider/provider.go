// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provider defines where configuration bytes come from and how changes to
// them are observed. The loader owns parsing; providers only move bytes.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type names a configuration source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
	TypeEmbedded  Type = "embedded"
)

// ParseType resolves a source name given on the command line.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	case "embedded", "env":
		return TypeEmbedded, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider is a configuration source.
type Provider interface {
	Type() Type

	// Load reads the raw document.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the document changes, until
	// ctx is cancelled. A nil channel means the source cannot be watched.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// ProviderConfig selects and addresses a source.
type ProviderConfig struct {
	Type Type

	// Path is a file path, or the key/znode holding the document.
	Path string

	// Endpoints of the remote store (consul, etcd, zookeeper).
	Endpoints []string

	// DialTimeout bounds the initial connection to a remote store.
	DialTimeout time.Duration

	// Document is served by the embedded provider.
	Document []byte
}

// New builds the provider described by opts.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Type == TypeEmbedded {
		return NewEmbeddedProvider(opts.Document), nil
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts.Endpoints, opts.Path)
	case TypeEtcd:
		return NewEtcdProvider(opts.Endpoints, opts.Path, opts.DialTimeout)
	case TypeZookeeper:
		return NewZookeeperProvider(opts.Endpoints, opts.Path, opts.DialTimeout)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

// EmbeddedProvider serves a fixed document, usually the built-in defaults whose
// values come from the environment.
type EmbeddedProvider struct {
	doc []byte
}

func NewEmbeddedProvider(doc []byte) *EmbeddedProvider {
	return &EmbeddedProvider{doc: append([]byte(nil), doc...)}
}

func (p *EmbeddedProvider) Type() Type { return TypeEmbedded }

func (p *EmbeddedProvider) Load(context.Context) ([]byte, error) {
	return append([]byte(nil), p.doc...), nil
}

func (p *EmbeddedProvider) Watch(context.Context) (<-chan struct{}, error) { return nil, nil }

func (p *EmbeddedProvider) Close() error { return nil }

// notify performs a non-blocking send so a slow loader coalesces bursts of changes.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
