package main

import "indexheat/internal/cli"

func main() {
	cli.Execute()
}
