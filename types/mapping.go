// Package types defines the core domain types for dispipe.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"path/filepath"
)

// PipeMapping binds one named pipe to one chat channel.
// Immutable once loaded.
type PipeMapping struct {
	// Label identifies the mapping in logs and diagnostics.
	Label string `json:"label" yaml:"label"`
	// Path is the absolute path of the FIFO.
	Path string `json:"path" yaml:"path"`
	// ChannelID is the destination channel.
	ChannelID uint64 `json:"channel_id" yaml:"channel_id"`
}

// String renders the mapping the way it is announced at startup.
func (m PipeMapping) String() string {
	return fmt.Sprintf("%s -> #%d", m.Path, m.ChannelID)
}

// Config is the validated in-memory configuration consumed by the supervisor.
// Mapping order only affects startup log ordering.
type Config struct {
	// Token is the sink credential. Opaque to the core.
	Token string
	// Root is the directory holding every pipe.
	Root string
	// Mappings lists the pipe-to-channel associations.
	Mappings []PipeMapping
}

// PipePath joins a relative FIFO name onto root.
func PipePath(root, name string) string {
	return filepath.Join(root, name)
}
