package main

import "github.com/kestrelhq/kestrel/cmd"

func main() {
	cmd.Execute()
}
