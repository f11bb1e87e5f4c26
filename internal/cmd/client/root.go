// Package client contains Cobra CLI commands for talking to a syncd server.
package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the server base URL (from env or flag).
type BaseURLFunc func() string

// TokenFunc provides the bearer token, empty when auth is disabled.
type TokenFunc func() string

// NewRoot constructs the client command group.
func NewRoot(baseURL BaseURLFunc, token TokenFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "client",
		Short: "Client operations against a syncd server",
	}
	root.AddCommand(
		newPublishCommand(baseURL, token),
		newFollowCommand(baseURL, token),
		newWindowCommand(baseURL, token),
		newEventsCommand(baseURL, token),
		newCheckpointCommand(),
	)
	return root
}
