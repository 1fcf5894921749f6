package client

import (
	"github.com/spf13/cobra"

	"github.com/rzbill/tasq/internal/cmd/client/transports"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

func getTransport(baseURL BaseURLFunc) transports.TaskAPI {
	return transports.NewHTTPTransport(baseURL)
}

// NewRoot constructs a root Cobra command for the tasq client.
// It registers the task command group.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "tasq",
		Short: "Tasq client commands",
	}
	root.AddCommand(NewTaskCommand(baseURL))
	return root
}
