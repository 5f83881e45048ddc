package main

import "github.com/vietddude/chainwallet/internal/cli"

func main() {
	cli.Execute()
}
