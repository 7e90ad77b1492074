package main

import "mailbridge/cmd"

func main() {
	cmd.Run()
}
