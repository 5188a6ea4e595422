package main

import "github.com/xamircastel/xafra-ads-v5-sub000/cmd"

func main() {
	cmd.Execute()
}
