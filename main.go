package main

import "github.com/sw33tLie/chatscope/cmd"

func main() {
	cmd.Execute()
}
