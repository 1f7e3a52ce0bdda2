package main

import "backoffkit/internal/cli"

func main() {
	cli.Execute()
}
