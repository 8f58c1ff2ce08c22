package discovery

import (
	"context"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/internal/workpool"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/pagination"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Pagination is the cursor block of a paginated shell response. It is only
// present when the caller opted into pagination by supplying a limit or a
// cursor.
type Pagination struct {
	Page     int     `json:"page"`
	Next     *string `json:"next,omitempty"`
	Previous *string `json:"previous,omitempty"`
}

// ShellsResult is the merged outcome of a multi-registry shell lookup.
type ShellsResult struct {
	ShellDescriptors []types.ShellDescriptor `json:"shellDescriptors"`
	DTRs             []types.DTR             `json:"dtrs"`
	ShellsFound      int                     `json:"shellsFound"`
	Error            string                  `json:"error,omitempty"`
	Pagination       *Pagination             `json:"pagination,omitempty"`
}

// ShellResult is one shell with the registry it was found in.
type ShellResult struct {
	Shell types.ShellDescriptor `json:"shell"`
	DTR   types.DTR             `json:"dtr"`
}

type dtrLookup struct {
	dtr    types.DTR
	cursor string
	limit  *int
}

type dtrLookupResult struct {
	shells     []types.ShellDescriptor
	nextCursor string
	err        error
}

// DiscoverShells runs the asset-link query against every known registry of
// the business partner in parallel and merges the results. Registry failures
// never abort sibling registries. Pagination is enabled only when the caller
// supplies a limit or a cursor.
func (e *Engine) DiscoverShells(ctx context.Context, bpn types.BPN, querySpec types.QuerySpec, dtrPolicies []types.Policy, limit *int, cursor string) (*ShellsResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "discovery.DiscoverShells")
	defer span.End()

	dtrs, err := e.dtrs.GetDTRs(ctx, bpn)
	if err != nil {
		telemetry.Error(span, err, "resolving DTRs")
		return nil, err
	}
	if len(dtrs) == 0 {
		return &ShellsResult{ShellDescriptors: []types.ShellDescriptor{}, DTRs: []types.DTR{}, Error: "No DTRs found"}, nil
	}

	paginationEnabled := limit != nil || cursor != ""
	state := pagination.PageState{DTRStates: map[string]pagination.DTRState{}, Limit: limit}
	if cursor != "" {
		state, err = pagination.DecodePageToken(cursor)
		if err != nil {
			return nil, err
		}
		if !pagination.IsCursorCompatible(state, limit) {
			return nil, pagination.LimitMismatchError(state, limit)
		}
	}

	// Registries already exhausted by previous pages sit this round out.
	var active []types.DTR
	for _, dtr := range dtrs {
		if s, ok := state.DTRStates[dtr.AssetID]; ok && s.Exhausted {
			continue
		}
		active = append(active, dtr)
	}

	perDTR := pagination.DistributeLimit(limit, len(active))
	jobs := make([]dtrLookup, 0, len(active))
	for _, dtr := range active {
		jobs = append(jobs, dtrLookup{
			dtr:    dtr,
			cursor: state.DTRStates[dtr.AssetID].Cursor,
			limit:  perDTR,
		})
	}

	results := workpool.Map(ctx, len(jobs), jobs, func(ctx context.Context, job dtrLookup) (dtrLookupResult, error) {
		return e.lookupDTR(ctx, bpn, job, querySpec, dtrPolicies), nil
	})

	response := &ShellsResult{ShellDescriptors: []types.ShellDescriptor{}, DTRs: dtrs}
	nextStates := make(map[string]pagination.DTRState, len(dtrs))
	for assetID, s := range state.DTRStates {
		nextStates[assetID] = s
	}

	for _, r := range results {
		lookup := r.Out
		assetID := r.Job.dtr.AssetID
		if lookup.err != nil {
			log.Warnf("shell lookup on DTR %s failed: %s", assetID, lookup.err)
			response.Error = appendDiagnostic(response.Error, lookup.err.Error())
			nextStates[assetID] = pagination.DTRState{AssetID: assetID, Exhausted: true}
			continue
		}
		response.ShellDescriptors = append(response.ShellDescriptors, lookup.shells...)
		nextStates[assetID] = pagination.DTRState{
			AssetID:   assetID,
			Cursor:    lookup.nextCursor,
			Exhausted: lookup.nextCursor == "",
		}
	}

	if limit != nil && len(response.ShellDescriptors) > *limit {
		response.ShellDescriptors = response.ShellDescriptors[:*limit]
	}
	// shellsFound reports what this page returns, not what the registries
	// hold.
	response.ShellsFound = len(response.ShellDescriptors)

	if paginationEnabled {
		page, err := e.buildPagination(state, nextStates, limit, cursor != "")
		if err != nil {
			return nil, err
		}
		response.Pagination = page
	}
	return response, nil
}

// lookupDTR negotiates one registry and runs the shell query, fetching each
// descriptor in parallel. Upstream ordering of shell ids is preserved.
func (e *Engine) lookupDTR(ctx context.Context, bpn types.BPN, job dtrLookup, querySpec types.QuerySpec, dtrPolicies []types.Policy) dtrLookupResult {
	edr, err := e.negotiateDTR(ctx, bpn, job.dtr, effectivePolicies(dtrPolicies, job.dtr))
	if err != nil {
		return dtrLookupResult{err: err}
	}

	ids, nextCursor, err := e.plane.lookupShells(ctx, edr, querySpec, job.limit, job.cursor)
	if err != nil {
		return dtrLookupResult{err: err}
	}

	fetched := workpool.Map(ctx, e.fetchConcurrency, ids, func(ctx context.Context, id string) (types.ShellDescriptor, error) {
		return e.plane.shellDescriptor(ctx, edr, id)
	})

	result := dtrLookupResult{nextCursor: nextCursor}
	for _, f := range fetched {
		if f.Err != nil {
			log.Warnf("fetching shell %s failed: %s", f.Job, f.Err)
			continue
		}
		e.index.Put(f.Out)
		result.shells = append(result.shells, f.Out)
	}
	return result
}

// buildPagination derives the response cursor block. The next token embeds
// the previous state one level deep so a client can step back one page.
func (e *Engine) buildPagination(prev pagination.PageState, nextStates map[string]pagination.DTRState, limit *int, resumed bool) (*Pagination, error) {
	prevShallow := prev
	prevShallow.Previous = nil

	next := pagination.PageState{
		DTRStates:  nextStates,
		PageNumber: prev.PageNumber + 1,
		Limit:      limit,
		Previous:   &prevShallow,
	}

	page := &Pagination{Page: next.PageNumber}
	if pagination.HasMoreData(nextStates) {
		token, err := pagination.EncodePageToken(next)
		if err != nil {
			return nil, err
		}
		page.Next = &token
	}
	if resumed && prev.Previous != nil {
		token, err := pagination.EncodePageToken(*prev.Previous)
		if err != nil {
			return nil, err
		}
		page.Previous = &token
	}
	return page, nil
}

// DiscoverShell fetches one shell descriptor by id, trying each registry in
// turn and returning the first hit. The shell index is refreshed but never
// consulted; on-demand lookups are always authoritative.
func (e *Engine) DiscoverShell(ctx context.Context, bpn types.BPN, shellID string, dtrPolicies []types.Policy) (*ShellResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "discovery.DiscoverShell")
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
		shell, err := e.plane.shellDescriptor(ctx, edr, shellID)
		if err != nil {
			if types.CodeOf(err) != types.FailureNotFound {
				lastErr = err
			}
			continue
		}
		e.index.Put(shell)
		return &ShellResult{Shell: shell, DTR: dtr}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, types.NewFailure(types.FailureNotFound, "shell %s not found in any DTR of %s", shellID, bpn)
}

func appendDiagnostic(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}
