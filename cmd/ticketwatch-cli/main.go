package main

import "ticketwatch/cmd/ticketwatch-cli/cmd"

func main() {
	cmd.Execute()
}
