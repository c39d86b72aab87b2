package main

import "github.com/strideai/stride/cmd"

func main() {
	cmd.Execute()
}
