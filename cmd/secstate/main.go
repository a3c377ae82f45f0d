// Command secstate inspects and manages the persisted client security state.
package main

import (
	"github.com/turtacn/secstate/cmd/cli"
)

func main() {
	cli.Execute()
}
