package main

import (
	"github.com/apm-collector/cmd/agent"
)

func main() {
	agent.Execute()
}
