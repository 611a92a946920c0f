package main

import (
	"github.com/accidia-0101/trafficai/api/cmd/trafficai"
)

func main() {
	trafficai.Execute()
}
