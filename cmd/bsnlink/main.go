package main

import "github.com/ideamans/bsnlink/cmd/bsnlink/cmd"

func main() {
	cmd.Execute()
}
