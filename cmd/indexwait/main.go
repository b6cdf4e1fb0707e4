// indexwait blocks until a package version shows up in the registry index,
// or fails after a timeout. It is the standalone counterpart to the wait step
// ferry schedules between dependencies and dependents, useful from shell
// scripts and CI steps that are not driven by a release manifest.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/opnlabs/ferry/pkg/registry"
)

func main() {
	indexURL := flag.String("index", "https://index.crates.io", "Registry index base URL")
	timeout := flag.Duration("timeout", 5*time.Minute, "Give up after this long")
	interval := flag.Duration("interval", 5*time.Second, "Delay between probes")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: indexwait [flags] <package> <version>")
		os.Exit(2)
	}
	name, version := flag.Arg(0), flag.Arg(1)

	index := registry.NewIndex(*indexURL, 0)
	deadline := time.Now().Add(*timeout)
	for {
		visible, err := index.HasVersion(context.Background(), name, version)
		if err != nil {
			log.Println(err)
		}
		if visible {
			fmt.Printf("%s %s is visible\n", name, version)
			return
		}
		if time.Now().After(deadline) {
			log.Fatalf("gave up waiting for %s %s", name, version)
		}
		time.Sleep(*interval)
	}
}
