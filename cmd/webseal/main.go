package main

import "github.com/jmcleod/webseal/cmd/webseal/cmd"

func main() {
	cmd.Execute()
}
