package app

import (
	"context"
	"errors"
	"strings"

	"github.com/sportball/sidecar/internal/sidecar"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// ConvertCommand migrates all sidecar files in a tree to a target format.
type ConvertCommand struct {
	commonFlags
	dir    string
	format string
	dryRun bool
}

func NewConvertCommand() *ConvertCommand { return &ConvertCommand{} }

func (c *ConvertCommand) Name() string { return "convert" }

func (c *ConvertCommand) Desc() string {
	return "批量转换 sidecar 文件的存储格式"
}

func (c *ConvertCommand) Init(f *pflag.FlagSet) {
	c.commonFlags.bind(f)
	f.StringVar(&c.dir, "dir", "", "sidecar 根目录")
	f.StringVar(&c.format, "format", "", "目标格式 (json, bin, rkyv)")
	f.BoolVar(&c.dryRun, "dry-run", false, "仅显示当前格式分布，不执行转换")
}

func (c *ConvertCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.dir) == "" {
		return errors.New("convert requires --dir")
	}
	if _, err := sidecar.ParseFormat(c.format); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("starting convert",
		zap.String("dir", c.dir),
		zap.String("format", c.format),
		zap.Bool("dry_run", c.dryRun),
	)
	return nil
}

func (c *ConvertCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)

	mgr, err := c.manager()
	if err != nil {
		return err
	}
	target, err := sidecar.ParseFormat(c.format)
	if err != nil {
		return err
	}

	if c.dryRun {
		counts, err := mgr.FormatStatistics(ctx, c.dir)
		if err != nil {
			return err
		}
		distribution := make(map[string]int, len(counts))
		for format, n := range counts {
			distribution[string(format)] = n
		}
		logger.Info("convert dry run", zap.Any("distribution", distribution))
		return writeOutput("-", map[string]any{
			"target_format":       string(target),
			"format_distribution": distribution,
		})
	}

	converted, err := mgr.ConvertDirectory(ctx, c.dir, target)
	if err != nil {
		return err
	}
	logger.Info("convert completed",
		zap.Int("converted", converted),
		zap.String("format", string(target)),
	)
	return nil
}

func (c *ConvertCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("convert", func() IRunner { return NewConvertCommand() })
}
