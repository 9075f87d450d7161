package main

import "github.com/zsiec/fcbus/cmd/fcbus/cmd"

func main() {
	cmd.Execute()
}
