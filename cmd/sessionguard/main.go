package main

import "github.com/jmcleod/sessionguard/cmd/sessionguard/cmd"

func main() {
	cmd.Execute()
}
