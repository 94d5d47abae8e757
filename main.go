// Command collabd serves the collaborative flow-editing backend: the
// WebSocket gateway, the collaboration coordinator, and their admin
// HTTP surface.
package main

import (
	"log"

	"github.com/evalgo/flowcollab/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
