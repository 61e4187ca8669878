package main

import "github.com/olegische/xrouter-go/cmd"

func main() {
	cmd.Execute()
}
