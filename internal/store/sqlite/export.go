package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	"github.com/pocketledger/ledgersync/internal/store"
)

// ExportVersion is the format version written by Export.
const ExportVersion = 1

// ExportedRecord is one record in an export document.
type ExportedRecord struct {
	Synced bool            `json:"synced"`
	Record json.RawMessage `json:"record"`
}

// Export is the document written by Store.Export.
type Export struct {
	Version     int                                    `json:"version"`
	ExportedAt  time.Time                              `json:"exported_at"`
	Collections map[domain.Collection][]ExportedRecord `json:"collections"`
	SyncLog     []store.SyncLogEntry                   `json:"sync_log"`
}

// Stream returns an iterator over every record of collection c, tombstones
// included, in insertion order.
func (s *Store) Stream(ctx context.Context, c domain.Collection) iter.Seq2[ExportedRecord, error] {
	return func(yield func(ExportedRecord, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT synced, data FROM "+tableName(c)+" ORDER BY seq")
		if err != nil {
			yield(ExportedRecord{}, storageError(err, "stream "+c.String()))
			return
		}
		defer rows.Close()

		for rows.Next() {
			if ctx.Err() != nil {
				yield(ExportedRecord{}, ctx.Err())
				return
			}
			var (
				synced int
				data   []byte
			)
			if err := rows.Scan(&synced, &data); err != nil {
				if !yield(ExportedRecord{}, storageError(err, "scan "+c.String())) {
					return
				}
				continue
			}
			if !yield(ExportedRecord{Synced: synced == 1, Record: json.RawMessage(data)}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ExportedRecord{}, storageError(err, "stream "+c.String()))
		}
	}
}

// Export writes every collection and the sync log to w as a JSON document.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	doc := Export{
		Version:     ExportVersion,
		ExportedAt:  s.now().UTC(),
		Collections: make(map[domain.Collection][]ExportedRecord),
	}

	for _, c := range domain.Collections() {
		records := []ExportedRecord{}
		for rec, err := range s.Stream(ctx, c) {
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		doc.Collections[c] = records
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, user_id, last_sync_time, synced_count FROM sync_log ORDER BY seq")
	if err != nil {
		return storageError(err, "read sync log")
	}
	defer rows.Close()
	if doc.SyncLog, err = scanSyncLog(rows); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Purge deletes every record and the sync log. Live queries are refreshed
// afterwards.
func (s *Store) Purge(ctx context.Context) error {
	s.writeMu.Lock()
	err := s.purgeLocked(ctx)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	for _, c := range domain.Collections() {
		s.publish(ctx, store.Change{Collection: c, Reset: true})
	}
	s.logger.Info("local store purged")
	return nil
}

func (s *Store) purgeLocked(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(err, "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, c := range domain.Collections() {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+tableName(c)); err != nil {
			return storageError(err, "purge "+c.String())
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_log"); err != nil {
		return storageError(err, "purge sync log")
	}
	return storageError(tx.Commit(), "commit purge")
}
