package main

import (
	"github.com/OFFIS-RIT/kinship/internal/server"
	"github.com/OFFIS-RIT/kinship/internal/util"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
