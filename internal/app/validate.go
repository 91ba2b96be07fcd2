package app

import (
	"context"
	"errors"
	"strings"

	"github.com/sportball/sidecar/internal/parallel"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// ValidateCommand bulk-validates sidecar files under a directory.
type ValidateCommand struct {
	commonFlags
	dir       string
	output    string
	workers   int
	operation string
}

func NewValidateCommand() *ValidateCommand { return &ValidateCommand{} }

func (c *ValidateCommand) Name() string { return "validate" }

func (c *ValidateCommand) Desc() string {
	return "并行校验目录下的 sidecar 文件"
}

func (c *ValidateCommand) Init(f *pflag.FlagSet) {
	c.commonFlags.bind(f)
	f.StringVar(&c.dir, "dir", "", "sidecar 根目录")
	f.StringVar(&c.output, "output", "-", "输出 JSON 文件路径，'-' 表示标准输出")
	f.IntVar(&c.workers, "workers", 0, "并行 worker 数量，0 表示按 CPU 核数")
	f.StringVar(&c.operation, "operation", "", "仅校验包含该 operation 的文件")
}

func (c *ValidateCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.dir) == "" {
		return errors.New("validate requires --dir")
	}
	logutil.GetLogger(ctx).Info("starting validate",
		zap.String("dir", c.dir),
		zap.Int("workers", c.workers),
	)
	return nil
}

func (c *ValidateCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)

	validator, err := c.validator(c.workers)
	if err != nil {
		return err
	}

	results, err := validator.ValidateDirectory(ctx, c.dir)
	if err != nil {
		return err
	}
	if token := strings.TrimSpace(c.operation); token != "" {
		paths := make([]string, 0, len(results))
		for _, r := range results {
			paths = append(paths, r.FilePath)
		}
		kept := validator.FilterByOperation(ctx, paths, token)
		keep := make(map[string]struct{}, len(kept))
		for _, p := range kept {
			keep[p] = struct{}{}
		}
		filtered := results[:0]
		for _, r := range results {
			if _, ok := keep[r.FilePath]; ok {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	summary := parallel.Summarize(results)
	logger.Info("validate completed",
		zap.Int("total", summary.TotalFiles),
		zap.Int("valid", summary.ValidFiles),
		zap.Int("invalid", summary.InvalidFiles),
	)

	return writeOutput(c.output, map[string]any{
		"summary": summary,
		"results": results,
	})
}

func (c *ValidateCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("validate", func() IRunner { return NewValidateCommand() })
}
