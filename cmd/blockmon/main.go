package main

import "github.com/vietddude/blockmon/internal/cli"

func main() {
	cli.Execute()
}
