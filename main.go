package main

import "github.com/yajidms/fbot/cmd"

func main() {
	cmd.Execute()
}
