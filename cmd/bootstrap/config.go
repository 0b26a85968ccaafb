package bootstrap

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/lechuhuuha/memcload/config"
	"github.com/lechuhuuha/memcload/util"
)

// CLIConfig captures CLI-provided options. Only flags given on the command
// line, or backed by a set environment variable, override the config file.
type CLIConfig struct {
	ConfigPath   string
	Pattern      string
	LogFile      string
	Mode         string
	Workers      int
	DryRun       bool
	SelfTest     bool
	IngestFile   string
	Destinations map[string]string

	explicit map[string]bool
}

var deviceFlags = []struct {
	name   string
	env    string
	defval string
}{
	{"idfa", util.EnvIdfaAddr, util.DefaultIdfaAddr},
	{"gaid", util.EnvGaidAddr, util.DefaultGaidAddr},
	{"adid", util.EnvAdidAddr, util.DefaultAdidAddr},
	{"dvid", util.EnvDvidAddr, util.DefaultDvidAddr},
}

var flagEnv = map[string]string{
	"config":  util.EnvConfigPath,
	"pattern": util.EnvPattern,
	"log":     util.EnvLogFile,
	"mode":    util.EnvWriteMode,
	"workers": util.EnvWorkers,
	"dry":     util.EnvDryRun,
	"idfa":    util.EnvIdfaAddr,
	"gaid":    util.EnvGaidAddr,
	"adid":    util.EnvAdidAddr,
	"dvid":    util.EnvDvidAddr,
}

// LoadEnvFile loads a .env file into the environment when one exists.
func LoadEnvFile() error {
	path := util.GetEnv(util.EnvDotenvFile, util.DefaultEnvFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ParseFlags reads CLI parameters from args (without the program name).
func ParseFlags(args []string) (CLIConfig, error) {
	fs := flag.NewFlagSet("memcload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", util.GetEnv(util.EnvConfigPath, ""), "Path to YAML config file")
	pattern := fs.String("pattern", util.GetEnv(util.EnvPattern, util.DefaultPattern), "Glob pattern of input files")
	logFile := fs.String("log", util.GetEnv(util.EnvLogFile, ""), "Log file path (stderr when empty)")
	mode := fs.String("mode", util.GetEnv(util.EnvWriteMode, "batch"), "Write mode: batch or single")
	workers := fs.Int("workers", util.GetIntEnv(util.EnvWorkers, 4), "Workers per file")
	dry := fs.Bool("dry", util.GetBoolEnv(util.EnvDryRun, false), "Log intended writes instead of writing")
	selfTest := fs.Bool("test", false, "Run the encoder self-test and exit")
	fs.BoolVar(selfTest, "t", false, "Shorthand for -test")
	ingestFile := fs.String("ingest-file", "", "Ingest a single file and exit (used by the dispatcher)")
	addrs := make(map[string]*string, len(deviceFlags))
	for _, d := range deviceFlags {
		addrs[d.name] = fs.String(d.name, util.GetEnv(d.env, d.defval), d.name+" cache address")
	}

	if err := fs.Parse(args); err != nil {
		return CLIConfig{}, fmt.Errorf("parse flags: %w", err)
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	for name, env := range flagEnv {
		if strings.TrimSpace(os.Getenv(env)) != "" {
			explicit[name] = true
		}
	}

	cli := CLIConfig{
		ConfigPath:   strings.TrimSpace(*configPath),
		Pattern:      strings.TrimSpace(*pattern),
		LogFile:      strings.TrimSpace(*logFile),
		Mode:         strings.TrimSpace(*mode),
		Workers:      *workers,
		DryRun:       *dry,
		SelfTest:     *selfTest,
		IngestFile:   strings.TrimSpace(*ingestFile),
		Destinations: make(map[string]string, len(addrs)),
		explicit:     explicit,
	}
	for name, v := range addrs {
		cli.Destinations[name] = strings.TrimSpace(*v)
	}
	return cli, nil
}

// ResolveConfig loads the config file, if any, and layers CLI overrides on top.
func ResolveConfig(cli CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cli.ConfigPath != "" {
		fileCfg, err := config.Load(cli.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		cfg = fileCfg
	}
	cli.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c CLIConfig) set(name string) bool { return c.explicit[name] }

func (c CLIConfig) apply(cfg *config.Config) {
	if c.set("pattern") {
		cfg.Pattern = c.Pattern
	}
	if c.set("log") {
		cfg.LogFile = c.LogFile
	}
	if c.set("mode") {
		cfg.Pipeline.Mode = c.Mode
	}
	if c.set("workers") && c.Workers > 0 {
		cfg.Pipeline.Workers = c.Workers
	}
	if c.set("dry") {
		cfg.DryRun = c.DryRun
	}
	for _, d := range deviceFlags {
		if !c.set(d.name) {
			continue
		}
		if cfg.Destinations == nil {
			cfg.Destinations = make(map[string]string)
		}
		cfg.Destinations[d.name] = c.Destinations[d.name]
	}
	if v := util.GetEnv(util.EnvMetricsAddr, ""); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := util.GetEnv(util.EnvPushGateway, ""); v != "" {
		cfg.Metrics.PushGateway = v
	}
	if v := util.SplitList(os.Getenv(util.EnvDeadLetterBrokers)); len(v) > 0 {
		cfg.DeadLetter.Kafka.Brokers = v
	}
}
