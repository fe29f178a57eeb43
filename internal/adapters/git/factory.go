package git

import (
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// ClientFactory produces core.GitClient ports. The port is stateless
// across repositories (each method takes its own repoPath), so a single
// PortAdapter instance serves every repository.
type ClientFactory struct{}

// NewClientFactory creates a new git client factory.
func NewClientFactory() *ClientFactory {
	return &ClientFactory{}
}

// NewClient returns the core.GitClient port. repoPath is accepted for
// interface-compatibility with callers that resolve a client per
// repository; the returned adapter itself is repo-agnostic.
func (f *ClientFactory) NewClient(repoPath string) (core.GitClient, error) {
	if _, err := NewClient(repoPath); err != nil {
		return nil, err
	}
	return NewPortAdapter(), nil
}
