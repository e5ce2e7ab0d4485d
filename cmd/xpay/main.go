package main

import "github.com/vitwit/xpay/internal/cli"

func main() {
	cli.Execute()
}
