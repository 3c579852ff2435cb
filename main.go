package main

import "github.com/nextlevelbuilder/qqrelay/cmd"

func main() {
	cmd.Execute()
}
