package main

import "github.com/vietddude/scrapeback/internal/cli"

func main() {
	cli.Execute()
}
