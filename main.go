package main

import "github.com/maestro-cli/maestro/internal/cmd"

func main() {
	cmd.Execute()
}
