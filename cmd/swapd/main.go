package main

import "github.com/meridianswap/swapd/internal/cli"

func main() {
	cli.Execute()
}
