package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/casedb"
	"github.com/rlorentegh/tramitador/internal/filing"
	"github.com/rlorentegh/tramitador/internal/metrics"
)

// SQLAdapterConfig describes one SQL-backed source.
type SQLAdapterConfig struct {
	Source filing.SourceID
	// CaseType is the eligibility filter: only cases of this type belong to
	// the source.
	CaseType string
	// Protocol is the filing sub-variant every case of this source follows.
	Protocol filing.ProtocolTag
}

// SQLAdapter discovers candidates by querying the external case-management
// database directly.
type SQLAdapter struct {
	base
	db  *casedb.DB
	cfg SQLAdapterConfig
}

// NewSQLAdapter builds a SQLAdapter.
func NewSQLAdapter(
	cfg SQLAdapterConfig,
	db *casedb.DB,
	claims filing.ClaimClient,
	enricher Enricher,
	logger *zap.Logger,
) (*SQLAdapter, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("adapter source is required")
	}
	if db == nil {
		return nil, fmt.Errorf("case database is required")
	}
	if claims == nil {
		return nil, fmt.Errorf("claim client is required")
	}
	return &SQLAdapter{
		base: base{
			source:   cfg.Source,
			claims:   claims,
			enricher: enricher,
			logger:   logger,
		},
		db:  db,
		cfg: cfg,
	}, nil
}

// Source returns the source id this adapter services.
func (a *SQLAdapter) Source() filing.SourceID { return a.cfg.Source }

const fetchCandidatesSQL = `
SELECT id_recurso, expediente, estado, COALESCE(asignado_a, '') AS asignado_a,
       COALESCE(interesado, '') AS interesado, COALESCE(domicilio, '') AS domicilio,
       COALESCE(requiere_autorizacion, FALSE) AS requiere_autorizacion,
       COALESCE(tipo_autorizacion, '') AS tipo_autorizacion
FROM recursos
WHERE tipo = $1
  AND (estado = 'libre' OR (estado = 'asignado' AND asignado_a = $2))
ORDER BY (estado = 'libre') DESC, id_recurso
LIMIT $3`

const repairCaseSQL = `UPDATE recursos SET expediente = $1 WHERE id_recurso = $2`

type caseRow struct {
	IDRecurso            int64  `db:"id_recurso"`
	Expediente           string `db:"expediente"`
	Estado               string `db:"estado"`
	AsignadoA            string `db:"asignado_a"`
	Interesado           string `db:"interesado"`
	Domicilio            string `db:"domicilio"`
	RequiereAutorizacion bool   `db:"requiere_autorizacion"`
	TipoAutorizacion     string `db:"tipo_autorizacion"`
}

// FetchCandidates queries eligible cases, free before claimed-by-self.
// Malformed case identifiers get one deterministic repair written back to
// the external system; cases that still fail are dropped with a log entry.
func (a *SQLAdapter) FetchCandidates(ctx context.Context, limit int) ([]filing.Resource, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []caseRow
	err := a.db.Handle().SelectContext(ctx, &rows, fetchCandidatesSQL, a.cfg.CaseType, a.claims.Identity(), limit)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch candidates for %s: %w", a.cfg.Source, err)
	}

	resources := make([]filing.Resource, 0, len(rows))
	for _, row := range rows {
		caseNumber, err := a.repairIfNeeded(ctx, row.IDRecurso, row.Expediente)
		if err != nil {
			a.logger.Warn("dropping candidate with unrepairable case number",
				zap.String("source", string(a.cfg.Source)),
				zap.Int64("resource_id", row.IDRecurso),
				zap.String("case_number", row.Expediente),
			)
			continue
		}
		resources = append(resources, filing.Resource{
			SourceID:           a.cfg.Source,
			ResourceID:         row.IDRecurso,
			CaseNumber:         caseNumber,
			State:              resourceState(row.Estado),
			ClaimedBy:          row.AsignadoA,
			Claimant:           row.Interesado,
			Address:            row.Domicilio,
			Protocol:           a.cfg.Protocol,
			NeedsAuthorization: row.RequiereAutorizacion,
			AuthorizationType:  row.TipoAutorizacion,
		})
	}
	orderFreeFirst(resources)
	return resources, nil
}

// repairIfNeeded canonicalizes the case number and writes the repair back.
// The write is idempotent: re-running it with the same canonical value is a
// no-op update.
func (a *SQLAdapter) repairIfNeeded(ctx context.Context, resourceID int64, caseNumber string) (string, error) {
	if CaseNumberValid(caseNumber) {
		return caseNumber, nil
	}
	repaired, err := RepairCaseNumber(caseNumber)
	if err != nil {
		return "", err
	}
	if _, err := a.db.Handle().ExecContext(ctx, repairCaseSQL, repaired, resourceID); err != nil {
		return "", fmt.Errorf("write case repair: %w", err)
	}
	a.logger.Info("repaired malformed case number",
		zap.String("source", string(a.cfg.Source)),
		zap.Int64("resource_id", resourceID),
		zap.String("from", caseNumber),
		zap.String("to", repaired),
	)
	metrics.ObserveCaseRepair(string(a.cfg.Source))
	return repaired, nil
}

func resourceState(estado string) filing.ResourceState {
	if estado == "libre" {
		return filing.ResourceFree
	}
	return filing.ResourceClaimed
}
