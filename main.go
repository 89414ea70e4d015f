package main

import "github.com/Gunther-Schulz/wan2gp-launcher-sub000/cmd"

func main() {
	cmd.Execute()
}
