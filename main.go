package main

import "github.com/jeanmeza/p2p/cmd"

func main() {
	cmd.Execute()
}
