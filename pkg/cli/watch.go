package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capstan/capstan/pkg/config"
	"github.com/capstan/capstan/pkg/types"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the config file and reload it on change",
		Long: `Run as a resident process that reloads the hook table and connection
set whenever the configuration file changes. Useful alongside an editor
while iterating on deployment hooks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch()
		},
	}
}

// applyReload returns the callback that swaps the runtime's hook table and
// connection set for a freshly loaded config. A failed reload keeps the
// previous state.
func applyReload(rt *runtime) config.ReloadCallback {
	return func(cfg *types.CapstanConfig, err error) {
		if err != nil {
			printError(fmt.Sprintf("Config reload failed: %v", err))
			return
		}

		rt.hooks.Reset()
		if err := rt.hooks.LoadTable(cfg.Hooks); err != nil {
			printError(fmt.Sprintf("Invalid hook table after reload: %v", err))
			return
		}

		// The executor reads connections and stages through this pointer
		rt.cfg.Connections = cfg.Connections
		rt.cfg.Stages = cfg.Stages
		rt.cfg.DefaultStage = cfg.DefaultStage
		rt.cfg.Tasks = cfg.Tasks
		rt.cfg.Hooks = cfg.Hooks

		printInfo("Configuration reloaded")
	}
}

func runWatch() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	reload := config.NewReloadManager(getConfigPath(), rt.logger)
	reload.AddCallback(applyReload(rt))

	if err := reload.StartWatching(); err != nil {
		return err
	}
	defer reload.StopWatching()

	printInfo(fmt.Sprintf("Watching %s (Ctrl-C to stop)", getConfigPath()))
	<-ctx.Done()
	return nil
}
