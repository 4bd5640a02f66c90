package main

import "github.com/mselser95/blue-liquidator/cmd"

func main() {
	cmd.Execute()
}
