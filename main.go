package main

import "github.com/castellanbot/castellan/cmd"

func main() {
	cmd.Execute()
}
