package app

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// CleanupCommand removes sidecar files whose image no longer exists.
type CleanupCommand struct {
	commonFlags
	dir    string
	dryRun bool
}

func NewCleanupCommand() *CleanupCommand { return &CleanupCommand{} }

func (c *CleanupCommand) Name() string { return "cleanup" }

func (c *CleanupCommand) Desc() string {
	return "清理没有对应图片的孤儿 sidecar 文件"
}

func (c *CleanupCommand) Init(f *pflag.FlagSet) {
	c.commonFlags.bind(f)
	f.StringVar(&c.dir, "dir", "", "sidecar 根目录")
	f.BoolVar(&c.dryRun, "dry-run", false, "仅列出将被删除的文件，不执行删除")
}

func (c *CleanupCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.dir) == "" {
		return errors.New("cleanup requires --dir")
	}
	logutil.GetLogger(ctx).Info("starting cleanup",
		zap.String("dir", c.dir),
		zap.Bool("dry_run", c.dryRun),
	)
	return nil
}

func (c *CleanupCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)

	mgr, err := c.manager()
	if err != nil {
		return err
	}

	if c.dryRun {
		orphans, err := mgr.OrphanedSidecars(ctx, c.dir)
		if err != nil {
			return err
		}
		logger.Info("cleanup dry run", zap.Int("orphans", len(orphans)))
		return writeOutput("-", map[string]any{
			"would_remove": orphans,
			"count":        len(orphans),
		})
	}

	removed, err := mgr.CleanupOrphaned(ctx, c.dir)
	if err != nil {
		return err
	}
	logger.Info("cleanup completed", zap.Int("removed", removed))
	return nil
}

func (c *CleanupCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("cleanup", func() IRunner { return NewCleanupCommand() })
}
