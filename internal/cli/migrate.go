package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/batch"
	"github.com/kubev2v/vdc-migrator/internal/config"
	"github.com/kubev2v/vdc-migrator/internal/migration"
	"github.com/kubev2v/vdc-migrator/internal/opa"
	"github.com/kubev2v/vdc-migrator/internal/report"
	"github.com/kubev2v/vdc-migrator/internal/store"
	"github.com/kubev2v/vdc-migrator/internal/vcd"
	"github.com/kubev2v/vdc-migrator/internal/vsphere"
	"github.com/kubev2v/vdc-migrator/pkg/metrics"
)

type MigrateOptions struct {
	GlobalOptions

	NetworkMode  string
	ReportDir    string
	ReportFormat string
	ReportAll    bool
	PoliciesDir  string
	MetricsAddr  string
}

func DefaultMigrateOptions() *MigrateOptions {
	return &MigrateOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdMigrate() *cobra.Command {
	o := DefaultMigrateOptions()
	cmd := &cobra.Command{
		Use:   "migrate BATCH_FILE",
		Short: "Move the VMs of a batch file into their tenant OrgVDCs.",
		Example: "vdc-migrator migrate -c config.yaml batch.xlsx\n" +
			"vdc-migrator migrate --network-mode multi --report-all batch.csv",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *MigrateOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.NetworkMode, "network-mode", o.NetworkMode, fmt.Sprintf("Network mode. One of: (%s).", strings.Join(config.NetworkModes, ", ")))
	fs.StringVar(&o.ReportDir, "report-dir", o.ReportDir, "Directory the report is written to")
	fs.StringVarP(&o.ReportFormat, "report-format", "f", o.ReportFormat, fmt.Sprintf("Report format. One of: (%s).", strings.Join(config.ReportFormats, ", ")))
	fs.BoolVar(&o.ReportAll, "report-all", o.ReportAll, "List every request in the report, not only those that reached network resolution")
	fs.StringVar(&o.PoliciesDir, "policies-dir", o.PoliciesDir, "Directory of .rego policies evaluated before each move")
	fs.StringVar(&o.MetricsAddr, "metrics-address", o.MetricsAddr, "Serve prometheus metrics on this address during the batch")
}

func (o *MigrateOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *MigrateOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if len(o.NetworkMode) > 0 && !funk.Contains(config.NetworkModes, o.NetworkMode) {
		return fmt.Errorf("network mode must be one of %s", strings.Join(config.NetworkModes, ", "))
	}
	if len(o.ReportFormat) > 0 && !funk.Contains(config.ReportFormats, o.ReportFormat) {
		return fmt.Errorf("report format must be one of %s", strings.Join(config.ReportFormats, ", "))
	}
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("batch file: %w", err)
	}
	return nil
}

// LoadConfig applies the command flags over the global layering.
func (o *MigrateOptions) LoadConfig() (*config.Config, error) {
	cfg, err := o.layerConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *MigrateOptions) layerConfig() (*config.Config, error) {
	cfg, err := o.GlobalOptions.LoadConfig()
	if err != nil {
		return nil, err
	}
	if o.changed("network-mode") {
		cfg.Migration.NetworkMode = o.NetworkMode
	}
	if o.changed("report-dir") {
		cfg.Report.Dir = o.ReportDir
	}
	if o.changed("report-format") {
		cfg.Report.Format = o.ReportFormat
	}
	if o.changed("report-all") {
		cfg.Report.All = o.ReportAll
	}
	if o.changed("policies-dir") {
		cfg.PoliciesDir = o.PoliciesDir
	}
	if o.changed("metrics-address") {
		cfg.MetricsAddress = o.MetricsAddr
	}
	return cfg, nil
}

func (o *MigrateOptions) Run(ctx context.Context, args []string) error {
	cfg, err := o.LoadConfig()
	if err != nil {
		return err
	}

	flush := InitLogging(cfg.LogLevel)
	defer flush()
	printConfig(cfg)
	log := zap.S().Named("cli")

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	b, err := batch.ReadFile(args[0])
	if err != nil {
		return err
	}
	for _, rejected := range b.Rejected {
		log.Warnf("rejected batch row: %v", rejected)
	}

	if cfg.MetricsAddress != "" {
		listener, err := net.Listen("tcp", cfg.MetricsAddress)
		if err != nil {
			return fmt.Errorf("creating metrics listener: %w", err)
		}
		go func() {
			if err := metrics.NewServer(cfg.MetricsAddress, listener).Run(ctx); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	compute, err := vsphere.Login(ctx, vsphereConfig(cfg))
	if err != nil {
		return fmt.Errorf("logging in to vsphere: %w", err)
	}
	defer func() {
		if err := compute.Logout(context.Background()); err != nil {
			log.Warnf("vsphere logout: %v", err)
		}
	}()

	tenant, err := vcd.NewClient(vcdConfig(cfg))
	if err != nil {
		return err
	}
	if err := tenant.Login(ctx); err != nil {
		return fmt.Errorf("logging in to vcd: %w", err)
	}
	defer func() {
		if err := tenant.Logout(context.Background()); err != nil {
			log.Warnf("vcd logout: %v", err)
		}
	}()

	opts, closeJournal, err := orchestratorOptions(cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	orchestrator := migration.NewOrchestrator(compute, tenant, opts)
	outcomes := orchestrator.Run(ctx, b.Requests)
	outcomes = append(rejectedOutcomes(orchestrator.RunID(), b.Rejected), outcomes...)

	if err := publishReport(context.Background(), cfg, orchestrator.RunID().String(), outcomes); err != nil {
		log.Errorf("report: %v", err)
	}

	summary := Summarize(outcomes)
	log.Infof("run %s finished: %s", orchestrator.RunID(), summary)
	if ctx.Err() != nil {
		return fmt.Errorf("batch interrupted after %d of %d request(s)", len(outcomes)-len(b.Rejected), len(b.Requests))
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d request(s) failed", summary.Failed)
	}
	return nil
}

func vsphereConfig(cfg *config.Config) vsphere.Config {
	return vsphere.Config{
		URL:                   cfg.VSphere.URL,
		Username:              cfg.VSphere.Username,
		Password:              cfg.VSphere.Password,
		Insecure:              cfg.VSphere.Insecure,
		SourceDatacenter:      cfg.VSphere.SourceDatacenter,
		DestinationDatacenter: cfg.VSphere.DestinationDatacenter,
		DestinationSwitch:     cfg.VSphere.DestinationSwitch,
		TagCategory:           cfg.VSphere.TagCategory,
	}
}

func vcdConfig(cfg *config.Config) vcd.Config {
	return vcd.Config{
		URL:              cfg.VCD.URL,
		Org:              cfg.VCD.Org,
		Username:         cfg.VCD.Username,
		Password:         cfg.VCD.Password,
		Insecure:         cfg.VCD.Insecure,
		VimServerID:      cfg.VCD.VimServerID,
		APIVersion:       cfg.VCD.APIVersion,
		RetryMax:         cfg.VCD.RetryMax,
		TaskPollInterval: cfg.VCD.TaskPollInterval.Duration,
	}
}

// orchestratorOptions builds the pipeline options. The returned func closes the
// journal, if one was opened.
func orchestratorOptions(cfg *config.Config) (migration.Options, func(), error) {
	valueType, err := migration.ParseValueType(cfg.Migration.Metadata.Type)
	if err != nil {
		return migration.Options{}, nil, err
	}
	visibility, err := migration.ParseVisibility(cfg.Migration.Metadata.Visibility)
	if err != nil {
		return migration.Options{}, nil, err
	}

	opts := migration.Options{
		Pools:           migration.NewResourcePools(cfg.Migration.Clusters),
		NetworkMode:     migration.NetworkMode(cfg.Migration.NetworkMode),
		PollInterval:    cfg.Migration.PollInterval.Duration,
		PollJitter:      cfg.Migration.PollJitter.Duration,
		ThinProvisioned: cfg.Migration.ThinProvisioned,
		Metadata: migration.MetadataSettings{
			Type:       valueType,
			Value:      cfg.Migration.Metadata.Value,
			Visibility: visibility,
		},
	}

	if cfg.PoliciesDir != "" {
		gate, err := opa.NewGateFromDir(cfg.PoliciesDir)
		if err != nil {
			return migration.Options{}, nil, err
		}
		opts.Policy = gate
	}

	closeJournal := func() {}
	if cfg.Journal.Type != "" {
		db, err := store.InitDB(cfg.Journal)
		if err != nil {
			return migration.Options{}, nil, fmt.Errorf("initializing journal: %w", err)
		}
		s := store.NewStore(db)
		if err := s.Journal().InitialMigration(); err != nil {
			_ = s.Close()
			return migration.Options{}, nil, fmt.Errorf("running journal migration: %w", err)
		}
		opts.Journal = s.Journal()
		closeJournal = func() { _ = s.Close() }
	}

	return opts, closeJournal, nil
}

func rejectedOutcomes(runID uuid.UUID, rejected []batch.RowError) []migration.Outcome {
	outcomes := make([]migration.Outcome, 0, len(rejected))
	for _, r := range rejected {
		name := r.VMName
		if name == "" {
			name = fmt.Sprintf("line %d", r.Line)
		}
		outcomes = append(outcomes, migration.Outcome{
			RunID:  runID,
			VMName: name,
			Status: migration.StatusSkipped,
			Stage:  migration.StageValidation,
			Reason: r.Err.Error(),
		})
	}
	return outcomes
}

func publishReport(ctx context.Context, cfg *config.Config, runID string, outcomes []migration.Outcome) error {
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}
	renderer, err := report.NewRenderer(format, cfg.Report.All)
	if err != nil {
		return err
	}

	sinks := []report.Sink{report.NewFileSink(cfg.Report.Dir)}
	if cfg.Report.Upload.Enabled() {
		up := cfg.Report.Upload
		minioSink, err := report.NewMinioSink(
			report.WithEndpoint(up.Endpoint),
			report.WithBucket(up.Bucket),
			report.WithPrefix(up.Prefix),
			report.WithRegion(up.Region),
			report.WithAccessKey(up.AccessKey),
			report.WithSecretKey(up.SecretKey),
			report.WithSSL(up.UseSSL),
		)
		if err != nil {
			return err
		}
		sinks = append(sinks, minioSink)
	}

	return report.Publish(ctx, renderer, ReportName(runID, format, time.Now()), outcomes, sinks...)
}

// ReportName is unique per run and sorts by date.
func ReportName(runID string, format report.Format, now time.Time) string {
	return fmt.Sprintf("vdc-migrator-%s-%s.%s", now.UTC().Format("20060102-150405"), runID[:8], format)
}

type Summary struct {
	Completed int
	Skipped   int
	Failed    int
}

func Summarize(outcomes []migration.Outcome) Summary {
	s := Summary{}
	for _, o := range outcomes {
		switch o.Status {
		case migration.StatusCompleted:
			s.Completed++
		case migration.StatusSkipped:
			s.Skipped++
		case migration.StatusFailed:
			s.Failed++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d completed, %d skipped, %d failed", s.Completed, s.Skipped, s.Failed)
}
