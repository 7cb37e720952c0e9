package migration

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/vdc-migrator/pkg/metrics"
	"go.uber.org/zap"
)

// MetadataSettings describes the value written under the backup key.
type MetadataSettings struct {
	Type       ValueType
	Value      string
	Visibility Visibility
}

func DefaultMetadataSettings() MetadataSettings {
	return MetadataSettings{Type: ValueDateTime, Value: DateTimeNow, Visibility: VisibilityGeneral}
}

// Journal records outcomes as they are produced. It is history only and is never read
// back to decide anything.
type Journal interface {
	Append(ctx context.Context, outcome Outcome) error
}

type Options struct {
	Pools           ResourcePools
	NetworkMode     NetworkMode
	Policy          PolicyGate
	PollInterval    time.Duration
	PollJitter      time.Duration
	ThinProvisioned bool
	Metadata        MetadataSettings
	Journal         Journal
}

// Orchestrator runs the whole pipeline for every request of a batch, one VM at a time.
// Both sessions are shared across the batch and only used from this goroutine.
type Orchestrator struct {
	compute   ComputeSession
	tenant    TenantSession
	validator *Validator
	placement *PlacementSelector
	mapper    *NetworkMapper
	executor  *Executor
	importer  *Importer
	tagger    *Tagger
	metadata  MetadataSettings
	journal   Journal
	runID     uuid.UUID
	now       func() time.Time
}

func NewOrchestrator(compute ComputeSession, tenant TenantSession, opts Options) *Orchestrator {
	if opts.Pools == nil {
		opts.Pools = NewResourcePools(nil)
	}
	if opts.Metadata.Type == "" {
		opts.Metadata = DefaultMetadataSettings()
	}
	return &Orchestrator{
		compute:   compute,
		tenant:    tenant,
		validator: NewValidator(compute, opts.Pools, opts.NetworkMode, opts.Policy),
		placement: NewPlacementSelector(compute),
		mapper:    NewNetworkMapper(compute),
		executor: NewExecutor(compute,
			WithPollInterval(opts.PollInterval),
			WithPollJitter(opts.PollJitter),
			WithThinProvisioning(opts.ThinProvisioned)),
		importer: NewImporter(tenant),
		tagger:   NewTagger(tenant),
		metadata: opts.Metadata,
		journal:  opts.Journal,
		runID:    uuid.New(),
		now:      time.Now,
	}
}

func (o *Orchestrator) RunID() uuid.UUID {
	return o.runID
}

// Run processes the batch strictly in order and returns one outcome per request. A
// failing request never stops the batch.
func (o *Orchestrator) Run(ctx context.Context, requests []Request) []Outcome {
	log := zap.S().Named("orchestrator")
	log.Infof("run %s: %d request(s)", o.runID, len(requests))

	outcomes := make([]Outcome, 0, len(requests))
	for i, req := range requests {
		if ctx.Err() != nil {
			log.Warnf("run %s interrupted before %s (%d/%d)", o.runID, req.VMName, i+1, len(requests))
			break
		}
		log.Infof("[%d/%d] %s", i+1, len(requests), req.VMName)
		out := o.Process(ctx, req)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Process runs the pipeline for a single request.
func (o *Orchestrator) Process(ctx context.Context, req Request) Outcome {
	out := &Outcome{
		RunID:   o.runID,
		VMName:  req.VMName,
		Stage:   StageValidation,
		Started: o.now(),
	}
	log := zap.S().Named("orchestrator").With("vm", req.VMName)

	preflight, err := o.validator.Validate(ctx, req)
	if err != nil {
		return o.finish(ctx, out, StatusSkipped, err)
	}
	out.SourceCluster = preflight.VM.Cluster
	out.SourceDatastore = preflight.VM.Datastore
	out.SizeGB = preflight.VM.SizeGB()
	log.Infof("validated: source cluster %s, datastore %s, %d GB", out.SourceCluster, out.SourceDatastore, out.SizeGB)

	if n, err := o.compute.DetachMedia(ctx, preflight.VM); err != nil {
		log.Warnf("could not detach removable media: %v", err)
		out.Notes = append(out.Notes, fmt.Sprintf("media detach failed: %v", err))
	} else if n > 0 {
		log.Infof("detached %d iso image(s)", n)
		out.Notes = append(out.Notes, fmt.Sprintf("detached %d iso image(s)", n))
	}

	tag, err := o.compute.SourceTag(ctx, preflight.VM)
	if err != nil {
		log.Warnf("could not read source tag: %v", err)
		out.Notes = append(out.Notes, fmt.Sprintf("tag lookup failed: %v", err))
	}
	out.SourceTag = tag

	out.Stage = StagePlacement
	placement, err := o.placement.Select(ctx, preflight)
	if err != nil {
		return o.finish(ctx, out, StatusSkipped, err)
	}

	out.Stage = StageNetwork
	for _, a := range preflight.Adapters {
		out.SourceNetworks = append(out.SourceNetworks, a.NetworkName)
	}
	mapping, err := o.mapper.Map(ctx, preflight.Adapters)
	if err != nil {
		return o.finish(ctx, out, StatusSkipped, err)
	}
	log.Infof("networks resolved: %v", mapping.SourceNetworks())

	out.Stage = StageExecution
	if _, err := o.executor.Execute(ctx, preflight.VM, *placement, mapping); err != nil {
		return o.finish(ctx, out, StatusFailed, err)
	}
	log.Infof("relocated to %s / %s", placement.Host.Name, placement.Datastore.Name)

	out.Stage = StageImport
	imported, err := o.importer.Import(ctx, req, preflight.OsClass, preflight.VM)
	if err != nil {
		return o.finish(ctx, out, StatusFailed, err)
	}
	if imported.Duplicate {
		out.Notes = append(out.Notes, fmt.Sprintf("vapp already present in %s", imported.VDC.Name))
	}

	out.Stage = StageMetadata
	if err := o.tag(ctx, out, imported.VApp, tag); err != nil {
		return o.finish(ctx, out, StatusFailed, err)
	}

	out.Stage = StageDone
	return o.finish(ctx, out, StatusCompleted, nil)
}

func (o *Orchestrator) tag(ctx context.Context, out *Outcome, vapp VApp, label string) error {
	log := zap.S().Named("orchestrator").With("vm", out.VMName)

	key := ClassifyTag(label)
	if key == BackupKeyUnmapped {
		log.Infof("no backup classification for tag %q, metadata skipped", label)
		out.Notes = append(out.Notes, "metadata skipped: no backup classification")
		return nil
	}

	// the tagger does not deduplicate, so the caller does
	entries, err := o.tenant.Metadata(ctx, vapp.Ref)
	if err != nil {
		return fmt.Errorf("reading metadata of %s: %w", vapp.Name, err)
	}
	if slices.ContainsFunc(entries, func(e MetadataEntry) bool { return e.Key == string(key) }) {
		log.Infof("metadata %s already present on %s", key, vapp.Name)
		out.Notes = append(out.Notes, fmt.Sprintf("metadata %s already present", key))
		return nil
	}

	_, err = o.tagger.Tag(ctx, vapp.Ref, string(key), o.metadata.Type, o.metadata.Value, o.metadata.Visibility)
	return err
}

func (o *Orchestrator) finish(ctx context.Context, out *Outcome, status OutcomeStatus, err error) Outcome {
	out.Status = status
	out.Finished = o.now()
	log := zap.S().Named("orchestrator").With("vm", out.VMName)
	if err != nil {
		out.Reason = err.Error()
		log.Warnf("%s at %s stage: %v", status, out.Stage, err)
	} else {
		log.Infof("%s in %s", status, out.Finished.Sub(out.Started).Round(time.Second))
	}

	metrics.IncreaseOutcomesTotal(string(status), out.Stage.String())

	if o.journal != nil {
		// an interrupted batch still records the request it was working on
		if jerr := o.journal.Append(context.WithoutCancel(ctx), *out); jerr != nil {
			log.Errorf("failed to journal outcome: %v", jerr)
		}
	}
	return *out
}
