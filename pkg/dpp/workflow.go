package dpp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/blobstore"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/bpndiscovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/discovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Workflow failures surface in error tracking, they usually mean a partner's
// federation setup broke.
var log = telemetry.NewSentryLogger("dpp")

const (
	identifierPrefix = "CX"

	// defaultWorkflowTimeout bounds one complete run.
	defaultWorkflowTimeout = 5 * time.Minute
)

// Request is the input of one workflow run.
type Request struct {
	ID          string           `json:"id"`
	SemanticID  string           `json:"semanticId"`
	DTRPolicies []types.Policy   `json:"dtrPolicies,omitempty"`
	Governance  types.Governance `json:"governance,omitempty"`
}

// Workflow runs DPP discoveries as asynchronous tasks.
type Workflow struct {
	engine         *discovery.Engine
	bpns           bpndiscovery.Client
	tasks          *TaskStore
	store          blobstore.Store
	identifierType string
	timeout        time.Duration
}

// Option configures the workflow.
type Option func(*Workflow)

// WithIdentifierType overrides the BPN discovery identifier type.
func WithIdentifierType(t string) Option {
	return func(w *Workflow) {
		w.identifierType = t
	}
}

// WithBlobStore persists fetched passports in the submodel blob store.
func WithBlobStore(store blobstore.Store) Option {
	return func(w *Workflow) {
		w.store = store
	}
}

// WithTimeout bounds one workflow run.
func WithTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		w.timeout = d
	}
}

// New creates a workflow on top of the discovery engine and BPN discovery.
func New(engine *discovery.Engine, bpns bpndiscovery.Client, tasks *TaskStore, opts ...Option) *Workflow {
	w := &Workflow{
		engine:         engine,
		bpns:           bpns,
		tasks:          tasks,
		identifierType: bpndiscovery.DefaultIdentifierType,
		timeout:        defaultWorkflowTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Tasks exposes the task store for status reads.
func (w *Workflow) Tasks() *TaskStore {
	return w.tasks
}

// Start registers a task and runs the workflow asynchronously. The returned
// snapshot is the initial state the accept response carries.
func (w *Workflow) Start(req Request) Snapshot {
	task := w.tasks.Create()
	go w.run(task, req)
	return task.Snapshot()
}

func (w *Workflow) run(task *Task, req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "dpp.run")
	defer span.End()

	// Step 1: parse CX:<manufacturerPartId>:<partInstanceId>.
	task.Advance(StepParsing, "Parsing product identifier", 10)
	manufacturerPartID, partInstanceID, err := parseIdentifier(req.ID)
	if err != nil {
		telemetry.Error(span, err, "parsing identifier")
		w.fail(task, err)
		return
	}

	// Step 2: resolve the owning business partners.
	task.Advance(StepDiscoveringBPN, "Discovering business partners", 25)
	bpns, err := w.bpns.DiscoverBPNs(ctx, w.identifierType, []string{manufacturerPartID})
	if err != nil {
		telemetry.Error(span, err, "discovering BPNs")
		w.fail(task, err)
		return
	}

	// Step 3: fan out shell discovery across the partners and pick the first
	// shell carrying the requested semantic id.
	task.Advance(StepRetrievingTwin, "Retrieving digital twin", 50)
	bpn, shell, err := w.findTwin(ctx, bpns, manufacturerPartID, partInstanceID, req)
	if err != nil {
		telemetry.Error(span, err, "retrieving twin")
		w.fail(task, err)
		return
	}

	// Step 4: locate the passport submodel within the shell.
	task.Advance(StepLookingUpSubmodel, "Looking up passport submodel", 70)
	submodelID, err := findSubmodelID(shell, req.SemanticID)
	if err != nil {
		telemetry.Error(span, err, "looking up submodel")
		w.fail(task, err)
		return
	}

	// Step 5: negotiate and fetch the payload.
	task.Advance(StepConsumingData, "Consuming passport data", 85)
	result, err := w.engine.DiscoverSubmodel(ctx, bpn, types.ShellID(shell), req.DTRPolicies, req.Governance, submodelID)
	if err != nil {
		telemetry.Error(span, err, "consuming data")
		w.fail(task, err)
		return
	}

	w.persist(ctx, req.SemanticID, submodelID, result.Data)
	task.Complete(shell, result.Data)
}

func (w *Workflow) fail(task *Task, err error) {
	log.Errorf("workflow task %s failed: %s", task.ID(), err)
	task.Fail(err.Error())
}

// findTwin queries every BPN in parallel and selects the first shell whose
// submodel descriptors carry the requested semantic id. A failing BPN never
// aborts the others.
func (w *Workflow) findTwin(ctx context.Context, bpns []types.BPN, manufacturerPartID, partInstanceID string, req Request) (types.BPN, types.ShellDescriptor, error) {
	querySpec := types.QuerySpec{{Name: "manufacturerPartId", Value: manufacturerPartID}}
	if partInstanceID != "" {
		querySpec = append(querySpec, types.QuerySpecEntry{Name: "partInstanceId", Value: partInstanceID})
	}

	var mu sync.Mutex
	var foundBPN types.BPN
	var foundShell types.ShellDescriptor

	g, gctx := errgroup.WithContext(ctx)
	for _, bpn := range bpns {
		g.Go(func() error {
			result, err := w.engine.DiscoverShells(gctx, bpn, querySpec, req.DTRPolicies, nil, "")
			if err != nil {
				log.Warnf("shell discovery for %s failed: %s", bpn, err)
				return nil
			}
			for _, shell := range result.ShellDescriptors {
				if !shellHasSemanticID(shell, req.SemanticID) {
					continue
				}
				mu.Lock()
				if foundShell == nil {
					foundBPN = bpn
					foundShell = shell
				}
				mu.Unlock()
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	if foundShell == nil {
		return "", nil, types.NewFailure(types.FailureNotFound,
			"no digital twin with semantic id %s found for %s across %d business partners",
			req.SemanticID, manufacturerPartID, len(bpns))
	}
	return foundBPN, foundShell, nil
}

// persist writes the fetched passport to the blob store when one is
// configured and the submodel id parses as a UUID.
func (w *Workflow) persist(ctx context.Context, semanticID, submodelID string, data any) {
	if w.store == nil || data == nil {
		return
	}
	id, err := uuid.Parse(strings.TrimPrefix(submodelID, "urn:uuid:"))
	if err != nil {
		log.Debugf("submodel id %s is not a UUID, skipping blob store write", submodelID)
		return
	}
	if err := w.store.Write(ctx, semanticID, id, data); err != nil {
		log.Warnf("persisting passport %s/%s failed: %s", semanticID, id, err)
	}
}

// parseIdentifier splits CX:<manufacturerPartId>:<partInstanceId>.
func parseIdentifier(id string) (string, string, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != identifierPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", types.NewFailure(types.FailureInvalidArgument,
			"invalid product identifier %q, expected CX:<manufacturerPartId>:<partInstanceId>", id)
	}
	return parts[1], parts[2], nil
}

func shellHasSemanticID(shell types.ShellDescriptor, semanticID string) bool {
	for _, descriptor := range types.SubmodelDescriptors(shell) {
		value, _, err := discovery.ExtractSemanticID(descriptor)
		if err == nil && value == semanticID {
			return true
		}
	}
	return false
}

func findSubmodelID(shell types.ShellDescriptor, semanticID string) (string, error) {
	for _, descriptor := range types.SubmodelDescriptors(shell) {
		value, _, err := discovery.ExtractSemanticID(descriptor)
		if err != nil || value != semanticID {
			continue
		}
		if id, ok := descriptor["id"].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", types.NewFailure(types.FailureNotFound, "shell has no submodel with semantic id %s", semanticID)
}
