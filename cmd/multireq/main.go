package main

import "github.com/egorkaBurkenya/multireq-go/internal/cli"

func main() {
	cli.Execute()
}
