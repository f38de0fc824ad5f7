package main

import "github.com/david/opportunity-scout/internal/cli"

func main() {
	cli.Execute()
}
