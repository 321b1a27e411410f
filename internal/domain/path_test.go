package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArtifactPath(t *testing.T) {
	date := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	got := ArtifactPath("exports", "job-1", "FUND_A", date, "EOD")
	assert.Equal(t, "exports/2026/07/01/job-1/FUND_A_20260701_EOD.csv", got)
}

func TestArtifactPathUsesEffectiveDateNotToday(t *testing.T) {
	// A unit exported long after its effective date still lands under the
	// effective date's folder.
	date := time.Date(2019, 12, 31, 0, 0, 0, 0, time.UTC)

	got := ArtifactPath("exports", "j9", "IDX", date, "CLS")
	assert.Equal(t, "exports/2019/12/31/j9/IDX_20191231_CLS.csv", got)
}

func TestArtifactPathIsDeterministic(t *testing.T) {
	date := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)

	first := ArtifactPath("exports", "job-7", "FUND_B", date, "EOD")
	second := ArtifactPath("exports", "job-7", "FUND_B", date, "EOD")
	assert.Equal(t, first, second)
}
