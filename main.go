package main

import "vidgrab/cmd"

func main() {
	cmd.Execute()
}
