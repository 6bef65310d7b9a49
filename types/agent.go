package types

import (
	"fmt"
	"time"
)

// =============================================================================
// Agent and Task
// =============================================================================
// The types package is the lowest-level package with no internal dependencies,
// so the swarm-wide entities live here and every protocol package shares them.
// =============================================================================

// LocalityKind discriminates where an agent executes.
type LocalityKind string

const (
	// LocalityLocal is an agent backed by an in-process inference backend.
	LocalityLocal LocalityKind = "local"
	// LocalityRemote is a platform-managed agent reached through the swarm transport.
	LocalityRemote LocalityKind = "remote"
)

// BackendType names a local backend variant.
type BackendType string

const (
	// BackendChat backends take a list of role-tagged messages.
	BackendChat BackendType = "chat"
	// BackendPrompt backends take a single prompt string.
	BackendPrompt BackendType = "prompt"
)

// Locality is a tagged union: Local{Backend} or Remote.
type Locality struct {
	Kind    LocalityKind `json:"kind" yaml:"kind"`
	Backend BackendType  `json:"backend,omitempty" yaml:"backend,omitempty"`
}

// Local returns a local locality for the given backend variant.
func Local(backend BackendType) Locality {
	return Locality{Kind: LocalityLocal, Backend: backend}
}

// Remote returns the platform-managed locality.
func Remote() Locality {
	return Locality{Kind: LocalityRemote}
}

// IsLocal reports whether the agent runs on a local backend.
func (l Locality) IsLocal() bool { return l.Kind == LocalityLocal }

func (l Locality) String() string {
	if l.IsLocal() {
		return fmt.Sprintf("local(%s)", l.Backend)
	}
	return string(LocalityRemote)
}

// Agent describes a swarm member. Identity fields are immutable; Workload is
// maintained by whoever owns the agent table.
type Agent struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Locality     Locality `json:"locality" yaml:"locality"`
	Workload     int      `json:"workload" yaml:"workload"`
	Capacity     int      `json:"capacity" yaml:"capacity"`
}

// Task is the unit of work being handed off. Context is opaque to this layer.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Type        string    `json:"type,omitempty"`
	Priority    int       `json:"priority"`
	Context     any       `json:"context,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
