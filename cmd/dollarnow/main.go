package main

import "dollarnow/internal/cli"

func main() {
	cli.Execute()
}
