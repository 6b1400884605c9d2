package main

import "github.com/trobanga/rythmiq/cmd"

func main() {
	cmd.Execute()
}
