package retrieval

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"catalog-rag/internal/classifier"
	"catalog-rag/internal/model"
)

// expandAggregation favors completeness over ranking. A small master
// document (a compiled list of the whole catalog) is authoritative and
// replaces everything merged so far, so overlapping documents can never be
// counted twice. Without one, whole documents are pulled in and every known
// document contributes its leading chunks.
func (r *Retriever) expandAggregation(ctx context.Context, log logrus.FieldLogger, analysis classifier.Analysis, filter model.ChunkFilter, m *merger, res *Result) error {
	master, err := r.scan(ctx, func(ctx context.Context) ([]model.ScoredChunk, error) {
		return r.store.ScanByDocumentPattern(ctx, r.cfg.MasterDocPatterns, filter)
	})
	report := QueryReport{Query: strings.Join(r.cfg.MasterDocPatterns, "|"), Kind: KindMasterDocument, Returned: len(master)}
	if err := r.checkScan(ctx, log, &report, err); err != nil {
		return err
	}
	if len(master) > 0 && len(master) < r.cfg.MasterDocCeiling {
		report.Added = m.replace(master)
		res.MasterDocument = true
		res.QueryBreakdown = append(res.QueryBreakdown, report)
		log.WithField("chunks", len(master)).Info("answering from master document")
		return nil
	}
	res.QueryBreakdown = append(res.QueryBreakdown, report)

	patterns := r.cfg.InventoryPatterns
	if analysis.IsCountQuery {
		patterns = []string{""}
	}
	full, err := r.scan(ctx, func(ctx context.Context) ([]model.ScoredChunk, error) {
		return r.store.ScanByDocumentPattern(ctx, patterns, filter)
	})
	report = QueryReport{Query: strings.Join(patterns, "|"), Kind: KindFullScan, Returned: len(full)}
	if err := r.checkScan(ctx, log, &report, err); err != nil {
		return err
	}
	report.Added = m.add(full, 0)
	res.QueryBreakdown = append(res.QueryBreakdown, report)

	return r.tableOfContents(ctx, log, filter, m, res)
}

// tableOfContents adds the first few chunks of every known document so even
// documents nothing matched are represented coarsely.
func (r *Retriever) tableOfContents(ctx context.Context, log logrus.FieldLogger, filter model.ChunkFilter, m *merger, res *Result) error {
	var docs []model.DocumentRef
	toc, err := r.scan(ctx, func(ctx context.Context) ([]model.ScoredChunk, error) {
		var err error
		if docs, err = r.store.ListDocuments(ctx, filter); err != nil || len(docs) == 0 {
			return nil, err
		}
		tocFilter := filter
		tocFilter.LeadingChunks = r.cfg.TOCChunksPerDocument
		tocFilter.DocumentIDs = make([]string, len(docs))
		for i, d := range docs {
			tocFilter.DocumentIDs[i] = d.ID
		}
		return r.store.ScanByDocumentPattern(ctx, []string{""}, tocFilter)
	})
	report := QueryReport{Query: "leading chunks", Kind: KindTOC, Returned: len(toc)}
	if err := r.checkScan(ctx, log, &report, err); err != nil {
		return err
	}
	report.Added = m.add(toc, 0)
	res.QueryBreakdown = append(res.QueryBreakdown, report)
	return nil
}

// expandDiversity makes sure a recommendation can cite several machines: it
// searches the product vocabulary and keeps a few chunks from each document
// the earlier passes did not reach.
func (r *Retriever) expandDiversity(ctx context.Context, log logrus.FieldLogger, filter model.ChunkFilter, m *merger, res *Result) error {
	terms := classifier.DiversityTerms()
	found, err := r.scan(ctx, func(ctx context.Context) ([]model.ScoredChunk, error) {
		return r.store.ScanByKeyword(ctx, terms, r.cfg.DiversityCandidates, filter)
	})
	report := QueryReport{Query: strings.Join(terms, "|"), Kind: KindDiversity, Returned: len(found)}
	if err := r.checkScan(ctx, log, &report, err); err != nil {
		return err
	}

	covered := make(map[string]bool)
	for _, c := range m.chunks {
		covered[c.DocumentID] = true
	}
	perDoc := make(map[string]int)
	picked := make([]model.ScoredChunk, 0, len(found))
	for _, c := range found {
		if covered[c.DocumentID] || perDoc[c.DocumentID] >= r.cfg.DiversityPerDocument {
			continue
		}
		perDoc[c.DocumentID]++
		picked = append(picked, c)
	}
	m.total += len(found) - len(picked)
	report.Added = m.addDiverse(picked)
	res.QueryBreakdown = append(res.QueryBreakdown, report)
	return nil
}

// scan runs one aggregation-phase store call under the scan timeout.
func (r *Retriever) scan(ctx context.Context, fn func(context.Context) ([]model.ScoredChunk, error)) ([]model.ScoredChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ScanTimeout)
	defer cancel()
	return fn(ctx)
}

// checkScan returns the error only when the search must stop; anything else is
// logged and recorded on the report.
func (r *Retriever) checkScan(ctx context.Context, log logrus.FieldLogger, report *QueryReport, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil {
		return nil
	}
	if fatal(err) != nil {
		return err
	}
	r.metrics.RecordSubQueryFailure(string(report.Kind))
	log.WithError(err).WithField("kind", report.Kind).Warn("aggregation scan failed")
	report.Error = err.Error()
	report.Returned = 0
	return nil
}
