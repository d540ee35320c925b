// Package identity derives the stable incident_id used as the dedup key.
// The same raw record must always map to the same id across process runs and
// machines; this is the only mechanism preventing duplicate storage of the
// same event fetched in overlapping windows.
package identity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// Assign computes the incident_id for a raw record. Sources that expose a
// natural unique id (municipal case numbers) are keyed on it directly;
// otherwise the id is content-addressed from (url, published timestamp).
// Returns "" when neither is available — the store rejects such rows.
func Assign(raw models.RawRecord, sourceTag string) string {
	if raw.NaturalID != "" {
		return sourceTag + "_" + raw.NaturalID
	}
	if raw.URL == "" || raw.PublishedAt == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw.URL + raw.PublishedAt))
	return hex.EncodeToString(sum[:])
}
