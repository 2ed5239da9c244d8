package main

import "github.com/nextlevelbuilder/ohbridge/cmd"

func main() {
	cmd.Execute()
}
