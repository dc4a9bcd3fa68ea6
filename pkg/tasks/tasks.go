// Package tasks provides the builtin deployment tasks. They follow a
// release-directory layout: each deploy lands in releases/<timestamp> and a
// "current" symlink points at the live release, so rollback is a symlink
// flip rather than a rebuild.
package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/capstan/capstan/pkg/logger"
	"github.com/capstan/capstan/pkg/task"
)

// Deploy creates a new timestamped release and points the current symlink
// at it. When Repo is set the release is a shallow git clone; the active
// stage selects the branch when one matches.
type Deploy struct {
	task.Base
	Repo string

	// now is swapped in tests for deterministic release names
	now func() time.Time
}

// NewDeploy creates a deploy task. Repo may be empty for bare release
// directories populated by hooks.
func NewDeploy(repo string) *Deploy {
	return &Deploy{
		Base: task.NewBase("deploy", true),
		Repo: repo,
		now:  time.Now,
	}
}

func (d *Deploy) Execute(ctx *task.Context) (interface{}, error) {
	release := "releases/" + d.now().UTC().Format("20060102150405")

	if _, status, err := ctx.Run("mkdir -p releases shared"); err != nil {
		return nil, err
	} else if status != 0 {
		return false, nil
	}

	create := fmt.Sprintf("mkdir -p %s", release)
	if d.Repo != "" {
		branch := ""
		if ctx.Stage != "" {
			branch = fmt.Sprintf(" --branch %s", ctx.Stage)
		}
		create = fmt.Sprintf("git clone --depth 1%s %s %s", branch, d.Repo, release)
	}

	if out, status, err := ctx.Run(create); err != nil {
		return nil, err
	} else if status != 0 {
		ctx.Log().Warn("Release creation failed",
			logger.WithField("release", release),
			logger.WithField("output", out))
		return false, nil
	}

	if _, status, err := ctx.Run(fmt.Sprintf("ln -sfn %s current", release)); err != nil {
		return nil, err
	} else if status != 0 {
		return false, nil
	}

	ctx.Log().Success("Deployed release", logger.WithField("release", release))
	return release, nil
}

// Rollback repoints the current symlink at the previous release. With fewer
// than two releases there is nothing to roll back to and the pass aborts.
type Rollback struct {
	task.Base
}

// NewRollback creates a rollback task.
func NewRollback() *Rollback {
	return &Rollback{Base: task.NewBase("rollback", true)}
}

func (r *Rollback) Execute(ctx *task.Context) (interface{}, error) {
	out, status, err := ctx.Run("ls -1 releases | sort | tail -n 2 | head -n 1")
	if err != nil {
		return nil, err
	}
	if status != 0 || out == "" {
		ctx.Log().Warn("No releases to roll back to")
		return false, nil
	}

	current, status, err := ctx.Run("readlink current")
	if err != nil {
		return nil, err
	}
	previous := strings.TrimSpace(out)
	if status == 0 && strings.TrimSpace(current) == "releases/"+previous {
		ctx.Log().Warn("Already on the oldest release",
			logger.WithField("release", previous))
		return false, nil
	}

	if _, status, err := ctx.Run(fmt.Sprintf("ln -sfn releases/%s current", previous)); err != nil {
		return nil, err
	} else if status != 0 {
		return false, nil
	}

	ctx.Log().Success("Rolled back", logger.WithField("release", previous))
	return previous, nil
}

// Cleanup prunes old releases, keeping the newest Keep entries. The current
// symlink is never touched, so pruning past the live release is safe only
// when Keep covers it.
type Cleanup struct {
	task.Base
	Keep int
}

// NewCleanup creates a cleanup task keeping the given number of releases.
// Values below one fall back to five.
func NewCleanup(keep int) *Cleanup {
	if keep < 1 {
		keep = 5
	}
	return &Cleanup{
		Base: task.NewBase("cleanup", false),
		Keep: keep,
	}
}

func (c *Cleanup) Execute(ctx *task.Context) (interface{}, error) {
	list := fmt.Sprintf("cd releases && ls -1 | sort | head -n -%d", c.Keep)
	out, status, err := ctx.Run(list)
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return false, nil
	}
	if out == "" {
		return "0 release(s) pruned", nil
	}

	stale := strings.Split(strings.TrimSpace(out), "\n")
	for _, rel := range stale {
		if _, status, err := ctx.Run(fmt.Sprintf("rm -rf releases/%s", rel)); err != nil {
			return nil, err
		} else if status != 0 {
			ctx.Log().Warn("Failed to prune release", logger.WithField("release", rel))
			return false, nil
		}
	}

	ctx.Log().Info("Pruned stale releases", logger.WithField("count", len(stale)))
	return fmt.Sprintf("%d release(s) pruned", len(stale)), nil
}

// DefaultRegistry builds a task registry preloaded with the builtin tasks
// and their common aliases.
func DefaultRegistry() *task.Registry {
	reg := task.NewRegistry()
	reg.Register("deploy", func() task.Task { return NewDeploy("") })
	reg.Register("rollback", func() task.Task { return NewRollback() })
	reg.Register("cleanup", func() task.Task { return NewCleanup(0) })
	reg.Alias("release", "deploy")
	reg.Alias("revert", "rollback")
	reg.Alias("prune", "cleanup")
	return reg
}
