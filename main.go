// Ferry is a release pipeline for multi-package projects.
//
// Ferry publishes interdependent packages to a registry in dependency order,
// waiting out the registry's index lag between a dependency and its
// dependents.
package main

import (
	"github.com/opnlabs/ferry/cmd/ferry"
)

func main() {
	ferry.Execute()
}
