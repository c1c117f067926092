/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "squadbot/cmd"

func main() {
	cmd.Execute()
}
