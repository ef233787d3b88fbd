package main

import (
	"os"

	"github.com/crmdesk/server/internal/cli"
	"github.com/crmdesk/server/pkg/logger"
)

func main() {
	logger.Init()
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
