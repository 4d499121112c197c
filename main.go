package main

import "github.com/aceteam-ai/nosana-monitor/cmd"

func main() {
	cmd.Execute()
}
