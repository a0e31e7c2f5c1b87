package main

import "github.com/vietddude/perpkeeper/internal/cli"

func main() {
	cli.Execute()
}
