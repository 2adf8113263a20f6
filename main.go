package main

import (
	"os"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
