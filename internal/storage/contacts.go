package storage

import (
	"context"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/pkg/utils"
)

// ContactsByHashes loads stored AirDrop contacts keyed by hash.
func (r *Repository) ContactsByHashes(ctx context.Context, hashes []int) (map[int]model.AirdropContact, error) {
	result := make(map[int]model.AirdropContact, len(hashes))
	for _, batch := range utils.SplitToBatches(hashes, maxQueryVariables) {
		args := make([]any, len(batch))
		for i, hash := range batch {
			args[i] = hash
		}
		rows, err := r.db.QueryContext(ctx,
			`SELECT sha256, associated_address, last_detect_ms FROM airdrop_contacts WHERE sha256 IN (`+placeholders(len(batch))+`)`,
			args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				contact model.AirdropContact
				lastMs  int64
			)
			if err := rows.Scan(&contact.SHA256, &contact.AssociatedAddress, &lastMs); err != nil {
				rows.Close()
				return nil, err
			}
			contact.LastDetectionAt = fromMillis(lastMs)
			result[contact.SHA256] = contact
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return result, nil
}
