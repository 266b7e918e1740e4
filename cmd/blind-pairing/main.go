package main

import "github.com/rudransh-shrivastava/blind-pairing/internal/cli"

func main() {
	cli.Execute()
}
