package discovery

import (
	"context"
	"fmt"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/internal/workpool"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Submodel processing statuses.
const (
	StatusPending            = "pending"
	StatusSuccess            = "success"
	StatusError              = "error"
	StatusGovernanceNotFound = "governance_not_found"
)

// SubmodelDescriptorStatus is the per-submodel processing record of a batch
// discovery.
type SubmodelDescriptorStatus struct {
	SubmodelID     string `json:"submodelId"`
	SemanticID     string `json:"semanticId,omitempty"`
	SemanticIDKeys string `json:"semanticIdKeys,omitempty"`
	AssetID        string `json:"assetId,omitempty"`
	ConnectorURL   string `json:"connectorUrl,omitempty"`
	Href           string `json:"href,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// SubmodelsResult is the outcome of a batch submodel discovery: one status
// record per descriptor, plus the payloads that were fetched successfully.
type SubmodelsResult struct {
	Shell               types.ShellDescriptor                `json:"shell"`
	DTR                 types.DTR                            `json:"dtr"`
	SubmodelDescriptors map[string]*SubmodelDescriptorStatus `json:"submodelDescriptors"`
	SubmodelsFound      int                                  `json:"submodelsFound"`
	Submodels           map[string]any                       `json:"submodels"`
}

// SubmodelResult is the outcome of a single-submodel lookup.
type SubmodelResult struct {
	Descriptor *SubmodelDescriptorStatus `json:"descriptor"`
	Data       any                       `json:"data,omitempty"`
}

// fetchItem is one pending submodel queued for negotiation and data fetch.
type fetchItem struct {
	status   *SubmodelDescriptorStatus
	policies []types.Policy
}

// DiscoverSubmodels resolves the shell, classifies every submodel descriptor
// against the governance map, negotiates each distinct asset once, then
// fetches the payloads in parallel. Failures are per-descriptor; siblings are
// never aborted.
func (e *Engine) DiscoverSubmodels(ctx context.Context, bpn types.BPN, shellID string, dtrPolicies []types.Policy, governance types.Governance) (*SubmodelsResult, error) {
	shellRes, err := e.DiscoverShell(ctx, bpn, shellID, dtrPolicies)
	if err != nil {
		return nil, err
	}
	descriptors := types.SubmodelDescriptors(shellRes.Shell)

	policyFor := func(semanticID string) ([]types.Policy, bool) {
		if governance == nil {
			return nil, false
		}
		policies, ok := governance[semanticID]
		return policies, ok
	}
	return e.processSubmodels(ctx, bpn, shellRes, descriptors, policyFor), nil
}

// DiscoverSubmodelBySemanticIDs is the batch discovery narrowed to
// descriptors whose semantic-id key set contains every target entry. The
// governance here is one policy list shared by all matches.
func (e *Engine) DiscoverSubmodelBySemanticIDs(ctx context.Context, bpn types.BPN, shellID string, dtrPolicies []types.Policy, governance []types.Policy, semanticIDs []types.SemanticIDKey) (*SubmodelsResult, error) {
	shellRes, err := e.DiscoverShell(ctx, bpn, shellID, dtrPolicies)
	if err != nil {
		return nil, err
	}

	var matched []types.SubmodelDescriptor
	for _, descriptor := range types.SubmodelDescriptors(shellRes.Shell) {
		_, keys, err := ExtractSemanticID(descriptor)
		if err != nil {
			continue
		}
		if MatchesSemanticIDs(keys, semanticIDs) {
			matched = append(matched, descriptor)
		}
	}
	if len(matched) == 0 {
		return nil, types.NewFailure(types.FailureNotFound, "no submodel matches semantic id criteria %s", formatSemanticIDs(semanticIDs))
	}

	policyFor := func(string) ([]types.Policy, bool) {
		return governance, governance != nil
	}
	return e.processSubmodels(ctx, bpn, shellRes, matched, policyFor), nil
}

// processSubmodels runs the batch status machine: classify, negotiate per
// distinct asset, fetch, then sweep anything still pending.
func (e *Engine) processSubmodels(ctx context.Context, bpn types.BPN, shellRes *ShellResult, descriptors []types.SubmodelDescriptor, policyFor func(semanticID string) ([]types.Policy, bool)) *SubmodelsResult {
	ctx, span := telemetry.StartSpan(ctx, "discovery.processSubmodels")
	defer span.End()

	result := &SubmodelsResult{
		Shell:               shellRes.Shell,
		DTR:                 shellRes.DTR,
		SubmodelDescriptors: map[string]*SubmodelDescriptorStatus{},
		Submodels:           map[string]any{},
	}

	byAsset := map[string][]*fetchItem{}
	for _, descriptor := range descriptors {
		submodelID, _ := descriptor["id"].(string)
		if submodelID == "" {
			continue
		}
		status := &SubmodelDescriptorStatus{SubmodelID: submodelID, Status: StatusPending}
		result.SubmodelDescriptors[submodelID] = status

		semanticID, _, err := ExtractSemanticID(descriptor)
		if err != nil {
			status.Status = StatusError
			status.Error = err.Error()
			continue
		}
		status.SemanticID = semanticID
		status.SemanticIDKeys = SemanticIDKeys(descriptor)

		policies, ok := policyFor(semanticID)
		if !ok {
			status.Status = StatusGovernanceNotFound
			continue
		}

		info, err := ExtractEndpointInfo(descriptor)
		if err != nil {
			status.Status = StatusError
			status.Error = err.Error()
			continue
		}
		status.AssetID = info.AssetID
		status.Href = info.Href
		status.ConnectorURL = info.ConnectorURL
		if status.ConnectorURL == "" {
			status.ConnectorURL = shellRes.DTR.ConnectorURL
		}
		if status.AssetID == "" {
			status.Status = StatusError
			status.Error = "submodel descriptor carries no asset id"
			continue
		}

		byAsset[status.AssetID] = append(byAsset[status.AssetID], &fetchItem{status: status, policies: policies})
	}

	// One negotiation per distinct asset, regardless of how many descriptors
	// share it.
	assetIDs := make([]string, 0, len(byAsset))
	for assetID := range byAsset {
		assetIDs = append(assetIDs, assetID)
	}
	negotiated := workpool.Map(ctx, e.negotiationConcurrency, assetIDs, func(ctx context.Context, assetID string) (connector.EDR, error) {
		item := byAsset[assetID][0]
		return e.negotiateAsset(ctx, bpn, item.status.ConnectorURL, assetID, item.policies)
	})

	tokens := map[string]connector.EDR{}
	for _, n := range negotiated {
		if n.Err != nil {
			diag := fmt.Sprintf("negotiation for asset %s failed: %s", n.Job, n.Err)
			for _, item := range byAsset[n.Job] {
				item.status.Status = StatusError
				item.status.Error = diag
			}
			continue
		}
		tokens[n.Job] = n.Out
	}

	var fetchQueue []*fetchItem
	for assetID, items := range byAsset {
		if _, ok := tokens[assetID]; !ok {
			continue
		}
		fetchQueue = append(fetchQueue, items...)
	}

	fetched := workpool.Map(ctx, e.fetchConcurrency, fetchQueue, func(ctx context.Context, item *fetchItem) (any, error) {
		return e.plane.fetchSubmodel(ctx, tokens[item.status.AssetID].AccessToken, item.status.Href)
	})
	for _, f := range fetched {
		if f.Err != nil {
			f.Job.status.Status = StatusError
			f.Job.status.Error = f.Err.Error()
			continue
		}
		result.Submodels[f.Job.status.SubmodelID] = f.Out
		f.Job.status.Status = StatusSuccess
	}

	for _, status := range result.SubmodelDescriptors {
		if status.Status == StatusPending {
			status.Status = StatusError
			status.Error = "Processing was not completed"
		}
	}
	result.SubmodelsFound = len(result.SubmodelDescriptors)
	return result
}

// DiscoverSubmodel is the direct-lookup variant: resolve the submodel
// descriptor at each registry in turn, then fetch its payload with the
// purge-and-retry protocol.
func (e *Engine) DiscoverSubmodel(ctx context.Context, bpn types.BPN, shellID string, dtrPolicies []types.Policy, governance types.Governance, submodelID string) (*SubmodelResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "discovery.DiscoverSubmodel")
	defer span.End()

	dtrs, err := e.dtrs.GetDTRs(ctx, bpn)
	if err != nil {
		return nil, err
	}
	if len(dtrs) == 0 {
		return nil, types.NewFailure(types.FailureNotFound, "No DTRs found")
	}

	var lastErr error
	for _, dtr := range dtrs {
		edr, err := e.negotiateDTR(ctx, bpn, dtr, effectivePolicies(dtrPolicies, dtr))
		if err != nil {
			lastErr = err
			continue
		}
		descriptor, err := e.plane.submodelDescriptor(ctx, edr, shellID, submodelID)
		if err != nil {
			if types.CodeOf(err) != types.FailureNotFound {
				lastErr = err
			}
			continue
		}

		status := &SubmodelDescriptorStatus{SubmodelID: submodelID, Status: StatusPending}
		if semanticID, _, err := ExtractSemanticID(descriptor); err == nil {
			status.SemanticID = semanticID
			status.SemanticIDKeys = SemanticIDKeys(descriptor)
		}

		info, err := ExtractEndpointInfo(descriptor)
		if err == nil && info.AssetID == "" {
			err = types.NewFailure(types.FailureInvalidArgument, "submodel descriptor carries no asset id")
		}
		if err != nil {
			status.Status = StatusError
			status.Error = err.Error()
			return &SubmodelResult{Descriptor: status}, err
		}
		status.AssetID = info.AssetID
		status.Href = info.Href
		status.ConnectorURL = info.ConnectorURL
		if status.ConnectorURL == "" {
			status.ConnectorURL = dtr.ConnectorURL
		}

		var policies []types.Policy
		if governance != nil {
			policies = governance[status.SemanticID]
		}

		data, err := e.fetchWithRetry(ctx, bpn, status.ConnectorURL, status.AssetID, policies, status.Href)
		if err != nil {
			status.Status = StatusError
			status.Error = err.Error()
			return &SubmodelResult{Descriptor: status}, err
		}
		status.Status = StatusSuccess
		return &SubmodelResult{Descriptor: status, Data: data}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, types.NewFailure(types.FailureNotFound, "submodel %s of shell %s not found in any DTR of %s", submodelID, shellID, bpn)
}

// fetchWithRetry fetches a submodel payload, running exactly one
// purge-sleep-renegotiate-refetch cycle when the first attempt returns no
// data or fails.
func (e *Engine) fetchWithRetry(ctx context.Context, bpn types.BPN, connectorURL, assetID string, policies []types.Policy, href string) (any, error) {
	edr, err := e.negotiateAsset(ctx, bpn, connectorURL, assetID, policies)
	if err != nil {
		return nil, err
	}

	data, err := e.plane.fetchSubmodel(ctx, edr.AccessToken, href)
	if err == nil {
		return data, nil
	}
	log.Warnf("submodel fetch for asset %s failed, purging token and retrying: %s", assetID, err)

	e.purgeToken(ctx, bpn, connectorURL, assetID, policies)
	e.sleep(ctx, e.purgeSleep)

	edr, err = e.negotiateAsset(ctx, bpn, connectorURL, assetID, policies)
	if err != nil {
		return nil, err
	}
	data, err = e.plane.fetchSubmodel(ctx, edr.AccessToken, href)
	if err != nil {
		return nil, types.WrapFailure(types.CodeOf(err), err, "no data after one retry: %s", err)
	}
	return data, nil
}

// purgeToken evicts a negotiated token in two stages: checksum deletion
// first, and when that misses, the asset-id force purge that also clears
// persisted rows.
func (e *Engine) purgeToken(ctx context.Context, bpn types.BPN, connectorURL, assetID string, policies []types.Policy) {
	deleted := e.connector.DeleteConnection(ctx, bpn, connectorURL,
		connector.QueryChecksum(connector.AssetFilter(assetID)),
		connector.PolicyChecksum(policies))
	if !deleted {
		e.connector.ForcePurge(ctx, bpn, assetID, connectorURL, policies)
	}
}

func formatSemanticIDs(ids []types.SemanticIDKey) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("(%s, %s)", id.Type, id.Value)
	}
	return out
}
