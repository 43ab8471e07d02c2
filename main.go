// Package main is the entry point for the support desk service.
package main

import (
	"log"

	"github.com/ejazhussain/espc2025-sub000/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
