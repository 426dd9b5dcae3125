package consensus

import (
	"testing"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inputAt(provider string, price float64, latencyMS int64, reliability float64, observedAt time.Time) Input {
	return Input{
		Response: domain.RawProviderResponse{
			Provider:     provider,
			Symbol:       "BTC",
			PriceUSD:     price,
			ObservedAt:   observedAt,
			RawLatencyMS: latencyMS,
		},
		Reliability: reliability,
	}
}

func TestFuseRejectsOutlierByMAD(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	inputs := []Input{
		inputAt("a", 100, 100, 0.9, now),
		inputAt("b", 101, 100, 0.9, now),
		inputAt("c", 99, 100, 0.9, now),
		inputAt("d", 500, 100, 0.9, now),
	}

	result, err := Fuse(inputs, DefaultParams(), now, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Consensus.ParticipatingSources)
	assert.Equal(t, 1, result.Consensus.RejectedSources)

	var survivingNames []string
	for _, s := range result.Sources {
		survivingNames = append(survivingNames, s.Provider)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, survivingNames)
}

func TestFuseThreeProviderAgreement(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	inputs := []Input{
		inputAt("binance", 45120.10, 184, 0.95, now),
		inputAt("kraken", 45130.00, 221, 0.90, now),
		inputAt("coingecko", 45118.00, 198, 0.92, now),
	}

	result, err := Fuse(inputs, DefaultParams(), now, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Consensus.ParticipatingSources)
	assert.Equal(t, 0, result.Consensus.RejectedSources)
	assert.GreaterOrEqual(t, result.PriceUSD, 45119.0)
	assert.LessOrEqual(t, result.PriceUSD, 45127.0)
	assert.Less(t, result.Consensus.DispersionPct, 0.001)
	assert.GreaterOrEqual(t, float64(result.Quality), 0.85)
}

func TestFuseSingleSurvivorHasDiminishedConfidence(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	inputs := []Input{inputAt("solo", 100, 100, 1.0, now)}

	result, err := Fuse(inputs, DefaultParams(), now, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Consensus.ParticipatingSources)
	assert.LessOrEqual(t, result.Consensus.Confidence, 0.5800001)
}

func TestFuseIsDeterministic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	inputs := []Input{
		inputAt("binance", 45120.10, 184, 0.95, now),
		inputAt("kraken", 45130.00, 221, 0.90, now),
		inputAt("coingecko", 45118.00, 198, 0.92, now),
	}

	first, err := Fuse(inputs, DefaultParams(), now, time.Minute)
	require.NoError(t, err)
	second, err := Fuse(inputs, DefaultParams(), now, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, first.PriceUSD, second.PriceUSD)
	assert.Equal(t, first.Consensus.Confidence, second.Consensus.Confidence)
}

func TestFuseDiscardsStaleEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	inputs := []Input{
		inputAt("fresh", 100, 100, 0.9, now),
		inputAt("stale", 200, 100, 0.9, now.Add(-10*time.Minute)),
	}

	result, err := Fuse(inputs, DefaultParams(), now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Consensus.ParticipatingSources)
	assert.Equal(t, 100.0, result.PriceUSD)
}

func TestFuseReturnsConsensusErrorWhenAllStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	inputs := []Input{inputAt("stale", 100, 100, 0.9, now.Add(-time.Hour))}

	_, err := Fuse(inputs, DefaultParams(), now, time.Minute)
	require.Error(t, err)
	assert.Equal(t, domain.ErrConsensus, domain.KindOf(err))
}

func TestFuseReturnsErrorOnEmptyInput(t *testing.T) {
	_, err := Fuse(nil, DefaultParams(), time.Now(), time.Minute)
	require.Error(t, err)
	assert.Equal(t, domain.ErrConsensus, domain.KindOf(err))
}
