package domain

import (
	"fmt"
	"time"
)

// ArtifactPath builds the deterministic object-storage path for a unit.
// The date segments come from the unit's effective date, never the current
// date, and the job ID segment scopes newly generated artifacts to their job:
//
//	<basePath>/YYYY/MM/DD/<jobID>/<indexKey>_<YYYYMMDD>_<asof>.csv
//
// Repeated writes for the same unit and job therefore overwrite the same
// object, which is what makes at-least-once execution safe at the storage
// layer.
func ArtifactPath(basePath, jobID, indexKey string, effectiveDate time.Time, asofIndicator string) string {
	return fmt.Sprintf("%s/%s/%s/%s_%s_%s.csv",
		basePath,
		effectiveDate.Format("2006/01/02"),
		jobID,
		indexKey,
		effectiveDate.Format("20060102"),
		asofIndicator,
	)
}
