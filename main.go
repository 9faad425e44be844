package main

import "github.com/mihaisavezi/sider-gateway/cmd"

func main() {
	cmd.Execute()
}
