package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// timestampLayouts are tried in order when parsing a raw timestamp. Covers
// RFC 3339 (news publish times) and the fraction-second / date-only shapes
// municipal open-data feeds emit.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize maps one raw record plus its source tag into a canonical
// Incident. A record without a parseable timestamp is rejected, never
// defaulted. The returned Incident carries no identity; that is assigned
// separately.
func Normalize(raw models.RawRecord, sourceTag string) (models.Incident, error) {
	occurredAt, err := ParseTimestamp(raw.OccurredAt)
	if err != nil {
		return models.Incident{}, err
	}

	crimeType := raw.CrimeType
	if crimeType == "" {
		crimeType = ClassifyCrimeType(strings.TrimSpace(raw.Title + " " + raw.Description))
	}

	location := raw.Location
	if location == "" {
		location = "Unknown"
	}

	return models.Incident{
		OccurredAt:  occurredAt,
		Description: raw.Description,
		Location:    location,
		CrimeType:   crimeType,
		Source:      sourceTag,
	}, nil
}

// ParseTimestamp parses a raw timestamp string into UTC. An empty or
// unparseable value is an error.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// Keyword buckets scanned in fixed precedence order: the first bucket with a
// matching keyword wins. The order is part of the classifier's contract.
var crimeKeywords = []struct {
	crimeType string
	keywords  []string
}{
	{models.CrimeHomicide, []string{"murder", "kill", "dead", "death", "homicide"}},
	{models.CrimeShooting, []string{"shoot", "shot", "gunfire", "gun"}},
	{models.CrimeRobberyTheft, []string{"rob", "theft", "stole", "burglary"}},
	{models.CrimeAssault, []string{"assault", "attack", "fight"}},
	{models.CrimeDrugRelated, []string{"drug", "narcotic"}},
}

// ClassifyCrimeType buckets free text by case-insensitive substring scan.
// Empty text is UNCLASSIFIED; text matching no bucket is OTHER.
func ClassifyCrimeType(text string) string {
	if text == "" {
		return models.CrimeUnclassified
	}
	text = strings.ToLower(text)
	for _, bucket := range crimeKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(text, kw) {
				return bucket.crimeType
			}
		}
	}
	return models.CrimeOther
}
