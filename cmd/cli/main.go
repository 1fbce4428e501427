package main

import "github.com/sizemap/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
