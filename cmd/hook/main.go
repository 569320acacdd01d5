// Command hook is the charm hook runner. The charm's hooks directory links
// every hook name to this binary; the invoked name selects the lifecycle
// step to run. It is executed by the hook framework, never imported.
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Tiger66639/juju-gui-charm/internal/charm"
	"github.com/Tiger66639/juju-gui-charm/internal/hook"
	"github.com/Tiger66639/juju-gui-charm/internal/hookenv"
	"github.com/Tiger66639/juju-gui-charm/internal/releases"
)

func main() {
	name := filepath.Base(os.Args[0])
	if len(os.Args) > 1 {
		name = os.Args[1]
	}

	baseDir, err := os.Getwd()
	if err != nil {
		fatal(err)
	}

	env := hookenv.New()
	store := releases.New(releases.Options{
		Endpoint:  os.Getenv("JUJU_GUI_RELEASES_ENDPOINT"),
		Region:    os.Getenv("JUJU_GUI_RELEASES_REGION"),
		Bucket:    os.Getenv("JUJU_GUI_RELEASES_BUCKET"),
		AccessKey: os.Getenv("JUJU_GUI_RELEASES_ACCESS_KEY"),
		SecretKey: os.Getenv("JUJU_GUI_RELEASES_SECRET_KEY"),
	})
	ops := charm.NewOperations(env, baseDir, store)

	if err := hook.Run(context.Background(), name, env, ops, hook.DefaultSnapshotPath); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	logger.Error().Err(err).Msg("hook failed")
	os.Exit(1)
}
