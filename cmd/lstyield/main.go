package main

import "lst-yield/internal/cli"

func main() {
	cli.Execute()
}
