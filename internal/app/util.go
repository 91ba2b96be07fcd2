package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sportball/sidecar/internal/config"
	"github.com/sportball/sidecar/internal/parallel"
	"github.com/sportball/sidecar/internal/sidecar"

	"github.com/spf13/pflag"
)

// commonFlags carries the flags shared by every runner.
type commonFlags struct {
	configPath string
}

func (c *commonFlags) bind(f *pflag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "配置文件路径，缺省时使用内置默认值")
}

var defaultConfigPaths = []string{
	"./sidecar.json",
	"/etc/sidecar.json",
}

func (c *commonFlags) load() (*config.Config, error) {
	paths := append([]string{c.configPath}, defaultConfigPaths...)
	return config.LoadFirst(paths...)
}

func (c *commonFlags) manager() (*sidecar.Manager, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, err
	}
	return sidecar.NewManager(cfg.ManagerOptions()), nil
}

func (c *commonFlags) validator(workers int) (*parallel.Validator, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = cfg.Workers
	}
	return parallel.NewValidator(workers), nil
}

// writeOutput renders v as pretty JSON to the given path, with "-"
// meaning stdout.
func writeOutput(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if path == "" || path == "-" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output %s: %w", path, err)
	}
	return nil
}
