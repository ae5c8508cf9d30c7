// Command filingsctl is the operator entrypoint: serve runs the HTTP API,
// migrate applies schema changes, watch attaches a terminal UI to a
// running job's progress stream. Grounded on the teacher's cmd/root.go +
// cmd/serve.go + cmd/migrate.go cobra split.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{Use: "filingsctl"}
	root.AddCommand(serveCmd(), migrateCmd(), watchCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
