package main

import (
	"os"

	"github.com/mailbox-cli/mailbox/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
