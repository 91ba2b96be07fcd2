package app

import (
	"context"
	"errors"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// StatsCommand aggregates sidecar coverage statistics for a directory.
type StatsCommand struct {
	commonFlags
	dir    string
	output string
}

func NewStatsCommand() *StatsCommand { return &StatsCommand{} }

func (c *StatsCommand) Name() string { return "stats" }

func (c *StatsCommand) Desc() string {
	return "统计目录下 sidecar 覆盖率与按 operation 的聚合指标"
}

func (c *StatsCommand) Init(f *pflag.FlagSet) {
	c.commonFlags.bind(f)
	f.StringVar(&c.dir, "dir", "", "sidecar 根目录")
	f.StringVar(&c.output, "output", "-", "输出 JSON 文件路径，'-' 表示标准输出")
}

func (c *StatsCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.dir) == "" {
		return errors.New("stats requires --dir")
	}
	logutil.GetLogger(ctx).Info("starting stats", zap.String("dir", c.dir))
	return nil
}

func (c *StatsCommand) Run(ctx context.Context) error {
	mgr, err := c.manager()
	if err != nil {
		return err
	}

	stats, err := mgr.Statistics(ctx, c.dir)
	if err != nil {
		return err
	}

	totalSize := int64(0)
	for _, sc := range stats.Sidecars {
		totalSize += sc.DataSize
	}
	logutil.GetLogger(ctx).Info("stats completed",
		zap.Int("images", stats.TotalImages),
		zap.Int("sidecars", stats.TotalSidecars),
		zap.Float64("coverage_pct", stats.CoveragePercentage),
		zap.String("total_payload", humanize.Bytes(uint64(totalSize))),
	)

	return writeOutput(c.output, stats)
}

func (c *StatsCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("stats", func() IRunner { return NewStatsCommand() })
}
