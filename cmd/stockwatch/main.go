package main

import "stock-outage-alerts/internal/cli"

func main() {
	cli.Execute()
}
