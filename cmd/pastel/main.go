package main

import (
	"pastel-deals/internal/cli"
)

func main() {
	cli.Execute()
}
