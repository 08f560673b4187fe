package main

import "github.com/davarch/ci-runner/cmd/ci-runner/cli"

func main() {
	cli.Execute()
}
