package main

import "github.com/zicklaa/zicklaabot/cmd"

func main() {
	cmd.Execute()
}
