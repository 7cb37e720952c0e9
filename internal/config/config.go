package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"

	"github.com/kubev2v/vdc-migrator/internal/migration"
	"github.com/kubev2v/vdc-migrator/internal/util"
)

const (
	// EnvPrefix prefixes every environment override, e.g. VDC_MIGRATOR_VSPHERE_PASSWORD.
	EnvPrefix = "VDC_MIGRATOR"

	DefaultConfigFile     = "/etc/vdc-migrator/config.yaml"
	DefaultReportDir      = "."
	DefaultReportFormat   = "csv"
	DefaultPollInterval   = 10 * time.Second
	DefaultJournalName    = "vdc-migrator.db"
	DefaultVCDAPIVersion  = "38.0"
	DefaultVCDTaskPolling = 5 * time.Second
)

var (
	NetworkModes    = []string{string(migration.NetworkModeSingle), string(migration.NetworkModeMulti)}
	ReportFormats   = []string{"csv", "xlsx"}
	JournalTypes    = []string{"", "sqlite", "pgsql"}
	LogLevels       = []string{"debug", "info", "warn", "error"}
	MetadataTypes   = []string{"String", "Number", "DateTime", "Boolean"}
	MetadataVisible = []string{"General", "Private", "ReadOnly"}
)

type Config struct {
	VSphere   VSphere   `json:"vsphere"`
	VCD       VCD       `json:"vcd"`
	Migration Migration `json:"migration"`
	Report    Report    `json:"report"`
	Journal   Journal   `json:"journal"`

	// PoliciesDir holds .rego files evaluated before each move. Empty disables the gate.
	PoliciesDir string `json:"policies-dir,omitempty" split_words:"true"`
	// MetricsAddress serves /metrics during the batch when set.
	MetricsAddress string `json:"metrics-address,omitempty" split_words:"true"`
	LogLevel       string `json:"log-level,omitempty" split_words:"true"`
}

type VSphere struct {
	URL                   string `json:"url" split_words:"true"`
	Username              string `json:"username" split_words:"true"`
	Password              string `json:"password" split_words:"true"`
	Insecure              bool   `json:"insecure,omitempty" split_words:"true"`
	SourceDatacenter      string `json:"source-datacenter,omitempty" split_words:"true"`
	DestinationDatacenter string `json:"destination-datacenter,omitempty" split_words:"true"`
	DestinationSwitch     string `json:"destination-switch,omitempty" split_words:"true"`
	TagCategory           string `json:"tag-category,omitempty" split_words:"true"`
}

type VCD struct {
	URL              string        `json:"url" split_words:"true"`
	Org              string        `json:"org,omitempty" split_words:"true"`
	Username         string        `json:"username" split_words:"true"`
	Password         string        `json:"password" split_words:"true"`
	Insecure         bool          `json:"insecure,omitempty" split_words:"true"`
	VimServerID      string        `json:"vim-server-id" split_words:"true"`
	APIVersion       string        `json:"api-version,omitempty" split_words:"true"`
	RetryMax         int           `json:"retry-max,omitempty" split_words:"true"`
	TaskPollInterval util.Duration `json:"task-poll-interval,omitempty" split_words:"true"`
}

type Migration struct {
	NetworkMode  string        `json:"network-mode,omitempty" split_words:"true"`
	PollInterval util.Duration `json:"poll-interval,omitempty" split_words:"true"`
	// PollJitter is the standard deviation applied to the poll interval.
	PollJitter util.Duration `json:"poll-jitter,omitempty" split_words:"true"`
	// Clusters overrides the os class to cluster table.
	Clusters        map[string]string `json:"clusters,omitempty" split_words:"true"`
	ThinProvisioned bool              `json:"thin-provisioned" split_words:"true"`
	Metadata        Metadata          `json:"metadata,omitempty"`
}

type Metadata struct {
	Type       string `json:"type,omitempty" split_words:"true"`
	Value      string `json:"value,omitempty" split_words:"true"`
	Visibility string `json:"visibility,omitempty" split_words:"true"`
}

type Report struct {
	Dir    string `json:"dir,omitempty" split_words:"true"`
	Format string `json:"format,omitempty" split_words:"true"`
	// All lists every request, not only those that reached network resolution.
	All    bool   `json:"all,omitempty" split_words:"true"`
	Upload Upload `json:"upload,omitempty"`
}

type Upload struct {
	Endpoint  string `json:"endpoint,omitempty" split_words:"true"`
	Bucket    string `json:"bucket,omitempty" split_words:"true"`
	Prefix    string `json:"prefix,omitempty" split_words:"true"`
	Region    string `json:"region,omitempty" split_words:"true"`
	AccessKey string `json:"access-key,omitempty" split_words:"true"`
	SecretKey string `json:"secret-key,omitempty" split_words:"true"`
	UseSSL    bool   `json:"use-ssl,omitempty" split_words:"true"`
}

func (u Upload) Enabled() bool {
	return u.Endpoint != ""
}

// Journal selects where outcomes are recorded. An empty type disables it.
type Journal struct {
	Type     string `json:"type,omitempty" split_words:"true"`
	Hostname string `json:"hostname,omitempty" split_words:"true"`
	Port     int    `json:"port,omitempty" split_words:"true"`
	Name     string `json:"name,omitempty" split_words:"true"`
	User     string `json:"user,omitempty" split_words:"true"`
	Password string `json:"password,omitempty" split_words:"true"`
}

func NewDefault() *Config {
	return &Config{
		VCD: VCD{
			Org:              "System",
			APIVersion:       DefaultVCDAPIVersion,
			TaskPollInterval: util.Duration{Duration: DefaultVCDTaskPolling},
		},
		Migration: Migration{
			NetworkMode:     string(migration.NetworkModeSingle),
			PollInterval:    util.Duration{Duration: DefaultPollInterval},
			ThinProvisioned: true,
			Metadata: Metadata{
				Type:       string(migration.ValueDateTime),
				Value:      migration.DateTimeNow,
				Visibility: string(migration.VisibilityGeneral),
			},
		},
		Report: Report{
			Dir:    DefaultReportDir,
			Format: DefaultReportFormat,
		},
		Journal: Journal{
			Hostname: "localhost",
			Port:     5432,
			Name:     DefaultJournalName,
		},
		LogLevel: "info",
	}
}

// ParseConfigFile reads the YAML file over the current values.
func (cfg *Config) ParseConfigFile(cfgFile string) error {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides the current values with the VDC_MIGRATOR_* variables that are set.
func (cfg *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

type field struct {
	value string
	name  string
}

type enumField struct {
	value string
	name  string
	legal []string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	return nil
}

func checkEnums(fields ...enumField) error {
	for _, f := range fields {
		if !funk.ContainsString(f.legal, f.value) {
			return fmt.Errorf("%s: %q is not one of %s", f.name, f.value, strings.Join(f.legal, ", "))
		}
	}
	return nil
}

// ValidatePreflight checks what a read-only run against vSphere needs. The tenant
// side, the report and the journal are not looked at.
func (cfg *Config) ValidatePreflight() error {
	if err := requireFields(
		field{cfg.VSphere.URL, "vsphere.url"},
		field{cfg.VSphere.Username, "vsphere.username"},
		field{cfg.VSphere.SourceDatacenter, "vsphere.source-datacenter"},
		field{cfg.VSphere.DestinationDatacenter, "vsphere.destination-datacenter"},
	); err != nil {
		return err
	}
	// the already-migrated check looks for the vm in the destination datacenter
	if strings.EqualFold(strings.TrimSpace(cfg.VSphere.SourceDatacenter), strings.TrimSpace(cfg.VSphere.DestinationDatacenter)) {
		return fmt.Errorf("vsphere.source-datacenter and vsphere.destination-datacenter must differ, both are %q", cfg.VSphere.SourceDatacenter)
	}

	return checkEnums(
		enumField{cfg.Migration.NetworkMode, "migration.network-mode", NetworkModes},
		enumField{strings.ToLower(cfg.LogLevel), "log-level", LogLevels},
	)
}

// ValidateJournal checks the settings of commands that only read the journal.
func (cfg *Config) ValidateJournal() error {
	if err := requireFields(field{cfg.Journal.Type, "journal.type"}); err != nil {
		return err
	}
	return checkEnums(
		enumField{cfg.Journal.Type, "journal.type", JournalTypes},
		enumField{strings.ToLower(cfg.LogLevel), "log-level", LogLevels},
	)
}

// Validate checks everything a migration run needs.
func (cfg *Config) Validate() error {
	if err := cfg.ValidatePreflight(); err != nil {
		return err
	}
	if err := requireFields(
		field{cfg.VCD.URL, "vcd.url"},
		field{cfg.VCD.Username, "vcd.username"},
		field{cfg.VCD.VimServerID, "vcd.vim-server-id"},
	); err != nil {
		return err
	}
	if err := checkEnums(
		enumField{cfg.Report.Format, "report.format", ReportFormats},
		enumField{cfg.Journal.Type, "journal.type", JournalTypes},
		enumField{cfg.Migration.Metadata.Type, "migration.metadata.type", MetadataTypes},
		enumField{cfg.Migration.Metadata.Visibility, "migration.metadata.visibility", MetadataVisible},
	); err != nil {
		return err
	}

	if cfg.VCD.RetryMax < 0 {
		return fmt.Errorf("vcd.retry-max must not be negative")
	}
	if cfg.Migration.PollInterval.Duration <= 0 {
		return fmt.Errorf("migration.poll-interval must be positive")
	}
	if cfg.Migration.PollJitter.Duration < 0 {
		return fmt.Errorf("migration.poll-jitter must not be negative")
	}
	if _, err := migration.NewTypedValue(migration.ValueType(cfg.Migration.Metadata.Type), cfg.Migration.Metadata.Value, time.Now()); err != nil {
		return fmt.Errorf("migration.metadata.value: %w", err)
	}
	if cfg.Report.Upload.Enabled() && cfg.Report.Upload.Bucket == "" {
		return fmt.Errorf("report.upload.bucket is required when an upload endpoint is set")
	}

	return nil
}

// String prints the configuration with every secret masked.
func (cfg *Config) String() string {
	masked := *cfg
	for _, secret := range []*string{&masked.VSphere.Password, &masked.VCD.Password, &masked.Journal.Password, &masked.Report.Upload.SecretKey} {
		if *secret != "" {
			*secret = "*****"
		}
	}
	contents, err := json.Marshal(masked)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}
