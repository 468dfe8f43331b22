package main

import "github.com/andresmejia3/blockfx/cmd"

func main() {
	cmd.Execute()
}
