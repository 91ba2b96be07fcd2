package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// FormatStatsCommand reports the sidecar format distribution of a tree.
type FormatStatsCommand struct {
	commonFlags
	dir    string
	output string
}

func NewFormatStatsCommand() *FormatStatsCommand { return &FormatStatsCommand{} }

func (c *FormatStatsCommand) Name() string { return "formatstats" }

func (c *FormatStatsCommand) Desc() string {
	return "统计目录下 sidecar 文件的格式分布"
}

func (c *FormatStatsCommand) Init(f *pflag.FlagSet) {
	c.commonFlags.bind(f)
	f.StringVar(&c.dir, "dir", "", "sidecar 根目录")
	f.StringVar(&c.output, "output", "-", "输出 JSON 文件路径，'-' 表示标准输出")
}

func (c *FormatStatsCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.dir) == "" {
		return errors.New("formatstats requires --dir")
	}
	return nil
}

func (c *FormatStatsCommand) Run(ctx context.Context) error {
	mgr, err := c.manager()
	if err != nil {
		return err
	}

	counts, err := mgr.FormatStatistics(ctx, c.dir)
	if err != nil {
		return err
	}

	total := 0
	distribution := make(map[string]int, len(counts))
	for format, n := range counts {
		distribution[string(format)] = n
		total += n
	}
	logutil.GetLogger(ctx).Info("formatstats completed",
		zap.Int("total", total),
		zap.Any("distribution", distribution),
	)

	return writeOutput(c.output, map[string]any{
		"directory":           c.dir,
		"format_distribution": distribution,
		"total_files":         total,
		"generated_at":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *FormatStatsCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("formatstats", func() IRunner { return NewFormatStatsCommand() })
}
