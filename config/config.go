package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

type Config struct {
	// Common settings
	Debug    bool          `mapstructure:"debug"`
	LogFile  string        `mapstructure:"log_file"`
	HTMLFile string        `mapstructure:"html_file"`
	DataDir  string        `mapstructure:"data_dir"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// Ledger settings
	Ledger LedgerConfig `mapstructure:"ledger"`

	// Download settings
	Download DownloadConfig `mapstructure:"download"`

	// Post-processing settings
	Post PostConfig `mapstructure:"post"`
}

type LedgerConfig struct {
	SuccessFile string `mapstructure:"success_file"`
	ErrorFile   string `mapstructure:"error_file"`
	SummaryFile string `mapstructure:"summary_file"`
	IndexDB     string `mapstructure:"index_db"`
	IndexOn     bool   `mapstructure:"index_on"`
}

type DownloadConfig struct {
	Workers            int `mapstructure:"workers"`
	Limit              int `mapstructure:"limit"`
	MinFreeDiskPercent int `mapstructure:"min_free_disk_percent"`
}

type PostConfig struct {
	DryRun        bool `mapstructure:"dry_run"`
	KeepOriginals bool `mapstructure:"keep_originals"`
	UseExiftool   bool `mapstructure:"use_exiftool"`
	UseFFmpeg     bool `mapstructure:"use_ffmpeg"`
}

// DefaultWorkers is the download concurrency used when nothing else is
// configured.
const DefaultWorkers = 5

var (
	DefaultDebug    = false
	DefaultHTMLFile = "memories_history.html"
	DefaultDataDir  = path.Join(xdg.DataHome, "memproc", "memories")
	DefaultTimeout  = 60 * time.Second
)

func Init() (*viper.Viper, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file search paths
	v.SetConfigName("memproc")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/memproc")
	v.AddConfigPath("/etc/memproc")

	// Environment variable prefix
	v.SetEnvPrefix("MEMPROC")
	v.AutomaticEnv()

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// If there's a config file but it's malformed, warn and continue with defaults
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v (using defaults)\n", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	// Common defaults
	v.SetDefault("debug", DefaultDebug)
	v.SetDefault("html_file", DefaultHTMLFile)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("timeout", "60s")

	// Ledger defaults
	v.SetDefault("ledger.success_file", "downloaded_files.json")
	v.SetDefault("ledger.error_file", "download_errors.json")
	v.SetDefault("ledger.summary_file", "metadata.json")
	v.SetDefault("ledger.index_db", "")
	v.SetDefault("ledger.index_on", false)

	// Download defaults
	v.SetDefault("download.workers", DefaultWorkers)
	v.SetDefault("download.limit", 0)
	v.SetDefault("download.min_free_disk_percent", 10)

	// Post-processing defaults
	v.SetDefault("post.dry_run", false)
	v.SetDefault("post.keep_originals", false)
	v.SetDefault("post.use_exiftool", true)
	v.SetDefault("post.use_ffmpeg", true)
}
