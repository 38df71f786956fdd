package main

import "github.com/agentic-research/structra/cmd"

func main() {
	cmd.Execute()
}
