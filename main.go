package main

import "mehranbot/cmd"

func main() {
	cmd.Execute()
}
