package main

import "github.com/vietddude/rpcsla/internal/cli"

func main() {
	cli.Execute()
}
