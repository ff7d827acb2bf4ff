package main

import "github.com/marshallshelly/inflatable/cmd/inflatable/commands"

func main() {
	commands.Execute()
}
