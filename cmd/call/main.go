package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quotewise/callbridge/internal/cli"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel)

	cli.Execute()
}
