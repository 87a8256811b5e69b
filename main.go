package main

import (
	"os"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
