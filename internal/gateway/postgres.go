// internal/gateway/postgres.go
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// postgresGateway serves one file table owned by one parent table. The
// table names are fixed per constructor, never caller input.
type postgresGateway struct {
	db         DBTX
	table      string
	ownerTable string
	ownerCol   string
}

// NewLinkImages serves hero images attached to directory links.
func NewLinkImages(db DBTX) Gateway {
	return &postgresGateway{db: db, table: "link_images", ownerTable: "links", ownerCol: "link_id"}
}

// NewDealImages serves gallery images attached to deals.
func NewDealImages(db DBTX) Gateway {
	return &postgresGateway{db: db, table: "deal_images", ownerTable: "deals", ownerCol: "deal_id"}
}

// NewDealAttachments serves document attachments on deals.
func NewDealAttachments(db DBTX) Gateway {
	return &postgresGateway{db: db, table: "deal_attachments", ownerTable: "deals", ownerCol: "deal_id"}
}

func (g *postgresGateway) Status(ctx context.Context, fileID int64) (Status, error) {
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, g.table)

	var status Status
	err := g.db.QueryRowContext(ctx, query, fileID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrRecordNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return status, nil
}

func (g *postgresGateway) SetStatus(ctx context.Context, fileID int64, status Status) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = now() WHERE id = $2`, g.table)

	res, err := g.db.ExecContext(ctx, query, status, fileID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (g *postgresGateway) CommitResult(ctx context.Context, ownerID, fileID int64, res Result) error {
	// One statement so the owner check and the write cannot interleave
	// with a concurrent delete.
	query := fmt.Sprintf(
		`UPDATE %s f
		 SET status = $1, processed_key = $2, url = $3, width = $4, height = $5, updated_at = now()
		 WHERE f.id = $6
		   AND EXISTS (SELECT 1 FROM %s o WHERE o.id = $7 AND o.id = f.%s)`,
		g.table, g.ownerTable, g.ownerCol,
	)

	r, err := g.db.ExecContext(ctx, query,
		StatusReady, res.ProcessedKey, res.URL, res.Width, res.Height, fileID, ownerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
