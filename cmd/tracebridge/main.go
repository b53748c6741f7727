package main

import "github.com/emiliopalmerini/tracebridge/internal/cli"

func main() {
	cli.Execute()
}
