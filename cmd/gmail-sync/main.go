// Command gmail-sync loads Gmail messages label by label into a
// recency-sorted result set, either once from the command line or behind
// an HTTP API.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("gmail-sync failed")
		os.Exit(1)
	}
}
