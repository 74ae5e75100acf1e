package util

import (
	"io"
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type ClusterConfig struct {
	// CoresPerCpu is the hardware thread count behind one allocatable CPU
	// (64 on Setonix AMD Milan nodes).
	CoresPerCpu uint32 `mapstructure:"CoresPerCpu"`
	// MaxCpusPerJob caps a single sweep entry. 0 means no cap.
	MaxCpusPerJob     uint32  `mapstructure:"MaxCpusPerJob"`
	SuCostPerCoreHour float64 `mapstructure:"SuCostPerCoreHour"`
}

type JobConfig struct {
	TimeLimit string `mapstructure:"TimeLimit"`
	MemPerCpu string `mapstructure:"MemPerCpu"`
	Exclusive bool   `mapstructure:"Exclusive"`
}

type Config struct {
	DefaultAccount   string `mapstructure:"DefaultAccount"`
	DefaultPartition string `mapstructure:"DefaultPartition"`

	SbatchPath string `mapstructure:"SbatchPath"`
	SacctPath  string `mapstructure:"SacctPath"`

	Cluster ClusterConfig `mapstructure:"Cluster"`
	Job     JobConfig     `mapstructure:"Job"`

	LogPath string `mapstructure:"LogPath"`
}

var DefaultConfigPath string

func init() {
	DefaultConfigPath = "/etc/sweep/config.yaml"
}

// ParseConfig loads the cluster configuration. A missing file is not an
// error: every field has a usable default so the tools work on a cluster
// with sbatch/sacct in PATH.
func ParseConfig(configFilePath string) *Config {
	v := viper.New()
	v.SetConfigFile(configFilePath)

	v.SetDefault("SbatchPath", "sbatch")
	v.SetDefault("SacctPath", "sacct")
	v.SetDefault("Cluster.CoresPerCpu", 64)
	v.SetDefault("Cluster.MaxCpusPerJob", 0)
	v.SetDefault("Cluster.SuCostPerCoreHour", 1.0)
	v.SetDefault("Job.TimeLimit", "1-00:00:00")
	v.SetDefault("Job.MemPerCpu", "200G")
	v.SetDefault("Job.Exclusive", true)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configFilePath); statErr == nil {
			log.Fatalf("Failed to read config file %s: %s", configFilePath, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		log.Fatalf("Failed to parse config file %s: %s", configFilePath, err)
	}

	if config.Cluster.CoresPerCpu == 0 {
		log.Fatalf("Invalid config: Cluster.CoresPerCpu must be > 0")
	}

	return config
}

func InitLogger(level log.Level) {
	log.SetLevel(level)
	log.SetFormatter(&nested.Formatter{})
}

// InitFileLogger mirrors log output into a rotating file next to stderr.
func InitFileLogger(level log.Level, path string) {
	InitLogger(level)
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     90,
	}))
}

func SetBorderlessTable(table *tablewriter.Table) {
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetNoWhiteSpace(true)
}
