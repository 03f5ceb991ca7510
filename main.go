package main

import "github.com/samsaffron/aye/cmd"

func main() {
	cmd.Execute()
}
