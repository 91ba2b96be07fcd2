package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// ExportCommand dumps every resolved sidecar association as JSON.
type ExportCommand struct {
	commonFlags
	dir       string
	output    string
	operation string
}

func NewExportCommand() *ExportCommand { return &ExportCommand{} }

func (c *ExportCommand) Name() string { return "export" }

func (c *ExportCommand) Desc() string {
	return "导出目录下已解析的 sidecar 关联信息"
}

func (c *ExportCommand) Init(f *pflag.FlagSet) {
	c.commonFlags.bind(f)
	f.StringVar(&c.dir, "dir", "", "sidecar 根目录")
	f.StringVar(&c.output, "output", "", "输出 JSON 文件路径")
	f.StringVar(&c.operation, "operation", "", "仅导出该 operation 的 sidecar")
}

func (c *ExportCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.dir) == "" {
		return errors.New("export requires --dir")
	}
	if strings.TrimSpace(c.output) == "" {
		return errors.New("export requires --output")
	}
	return nil
}

func (c *ExportCommand) Run(ctx context.Context) error {
	mgr, err := c.manager()
	if err != nil {
		return err
	}

	sidecars, err := mgr.ResolveAll(ctx, c.dir)
	if err != nil {
		return err
	}
	if token := strings.TrimSpace(c.operation); token != "" {
		filtered := sidecars[:0]
		for _, sc := range sidecars {
			if sc.Operation.String() == token {
				filtered = append(filtered, sc)
			}
		}
		sidecars = filtered
	}

	totalSize := int64(0)
	for _, sc := range sidecars {
		totalSize += sc.DataSize
	}
	logutil.GetLogger(ctx).Info("export completed",
		zap.Int("sidecars", len(sidecars)),
		zap.String("total_payload", humanize.Bytes(uint64(totalSize))),
		zap.String("output", c.output),
	)

	return writeOutput(c.output, map[string]any{
		"exported_at":      time.Now().UTC().Format(time.RFC3339),
		"source_directory": c.dir,
		"total_sidecars":   len(sidecars),
		"sidecars":         sidecars,
	})
}

func (c *ExportCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("export", func() IRunner { return NewExportCommand() })
}
