package main

import (
	"criptoguia-rates/internal/cli"
)

func main() {
	cli.Execute()
}
