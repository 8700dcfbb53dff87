package main

import "github.com/materials-commons/mcfetch/cmd/mcfetchd/cmd"

func main() {
	cmd.Execute()
}
