/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "metricbridge/cmd"

func main() {
	cmd.Execute()
}
