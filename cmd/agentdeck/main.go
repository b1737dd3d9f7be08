// AgentDeck - session and panel orchestration engine for coding-agent CLIs.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
