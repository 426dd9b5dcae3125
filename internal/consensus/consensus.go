// Package consensus fuses concurrent provider responses into a single
// NormalizedPrice with outlier rejection and a quality score (spec.md
// §4.5). There is no direct teacher equivalent — CryptoRun's microstructure
// facade (internal/infrastructure/datafacade/facade.go) picks one live
// provider response rather than fusing several, so this package is built
// fresh in the teacher's idiom: small pure functions over plain structs,
// no hidden state, tested with table-driven cases.
package consensus

import (
	"math"
	"sort"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
)

// Params are the tunable knobs spec.md §4.5 calls "policy, not code".
type Params struct {
	MADFactor        float64       // k, default 3
	StaleAfter        time.Duration // T_stale, default 5 minutes
	QualityWeights    QualityWeights
}

// QualityWeights are the convex-combination weights for the quality score.
type QualityWeights struct {
	Freshness        float64
	Agreement        float64
	SourceSaturation float64
	MeanReliability  float64
}

// DefaultParams matches spec.md §4.5's stated defaults.
func DefaultParams() Params {
	return Params{
		MADFactor:  3,
		StaleAfter: 5 * time.Minute,
		QualityWeights: QualityWeights{
			Freshness:        0.25,
			Agreement:        0.35,
			SourceSaturation: 0.15,
			MeanReliability:  0.25,
		},
	}
}

// sourceInput pairs a raw response with the reliability the router's
// metrics snapshot assigned its provider, the input this package needs
// per spec.md §4.5 step 4.
type sourceInput struct {
	raw         domain.RawProviderResponse
	reliability float64
}

// Input is a successful response plus the reliability (rolling success
// rate) of the provider that produced it.
type Input struct {
	Response    domain.RawProviderResponse
	Reliability float64
}

// Fuse implements spec.md §4.5's algorithm end to end. now is passed in
// rather than read from time.Now() so fusion is deterministically
// testable (spec.md's determinism property).
func Fuse(inputs []Input, params Params, now time.Time, ttl time.Duration) (domain.NormalizedPrice, error) {
	if len(inputs) == 0 {
		return domain.NormalizedPrice{}, domain.NewError(domain.ErrConsensus, "", "no inputs to fuse", nil)
	}

	symbol := inputs[0].Response.Symbol
	currency := "USD"

	// Step 1: discard stale entries.
	fresh := make([]sourceInput, 0, len(inputs))
	var rejectedStale []domain.Provenance
	for _, in := range inputs {
		if now.Sub(in.Response.ObservedAt) > params.StaleAfter {
			rejectedStale = append(rejectedStale, toProvenance(in, 0))
			continue
		}
		fresh = append(fresh, sourceInput{raw: in.Response, reliability: in.Reliability})
	}
	if len(fresh) == 0 {
		return domain.NormalizedPrice{}, domain.NewError(domain.ErrConsensus, "", "all sources stale", nil)
	}

	// Step 2-3: median/MAD outlier rejection.
	prices := make([]float64, len(fresh))
	for i, s := range fresh {
		prices[i] = s.raw.PriceUSD
	}
	m := median(prices)
	mad := medianAbsoluteDeviation(prices, m)

	var survivors []sourceInput
	var rejected []sourceInput
	for _, s := range fresh {
		if mad == 0 || math.Abs(s.raw.PriceUSD-m) <= params.MADFactor*mad {
			survivors = append(survivors, s)
		} else {
			rejected = append(rejected, s)
		}
	}
	if len(survivors) == 0 {
		return domain.NormalizedPrice{}, domain.NewError(domain.ErrConsensus, "", "no surviving sources after outlier rejection", nil)
	}

	// Step 4: re-weight survivors.
	weights := make([]float64, len(survivors))
	var weightSum float64
	for i, s := range survivors {
		freshness := freshnessScore(s.raw.ObservedAt, now, ttl)
		latencyDecay := 1 / (1 + float64(s.raw.RawLatencyMS)/1000)
		weights[i] = s.reliability * freshness * latencyDecay
		weightSum += weights[i]
	}
	if weightSum == 0 {
		// Degenerate case: every weight collapsed to zero (e.g. all
		// reliabilities are zero). Fall back to equal weighting so the
		// consensus price is still defined.
		for i := range weights {
			weights[i] = 1
		}
		weightSum = float64(len(weights))
	}
	for i := range weights {
		weights[i] /= weightSum
	}

	// Step 5: weighted mean.
	var consensusPrice float64
	for i, s := range survivors {
		consensusPrice += weights[i] * s.raw.PriceUSD
	}

	// Step 6: dispersion and confidence.
	survivorPrices := make([]float64, len(survivors))
	for i, s := range survivors {
		survivorPrices[i] = s.raw.PriceUSD
	}
	dispersion := 0.0
	meanPrice := mean(survivorPrices)
	if len(survivorPrices) > 1 && meanPrice != 0 {
		dispersion = stdev(survivorPrices, meanPrice) / meanPrice
	}

	var meanReliability float64
	for _, s := range survivors {
		meanReliability += s.reliability
	}
	meanReliability /= float64(len(survivors))

	n := float64(len(survivors))
	confidence := math.Min(1, math.Sqrt(n)/math.Sqrt(3)) * (1 - dispersion) * meanReliability
	confidence = clamp01(confidence)

	// Provenance and rejected-set bookkeeping.
	sources := make([]domain.Provenance, len(survivors))
	for i, s := range survivors {
		sources[i] = toProvenance(sourceInput{raw: s.raw, reliability: s.reliability}, weights[i])
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Provider < sources[j].Provider })

	allRejected := rejectedStale
	for _, r := range rejected {
		allRejected = append(allRejected, toProvenance(r, 0))
	}

	avgFreshness := 0.0
	for _, s := range survivors {
		avgFreshness += freshnessScore(s.raw.ObservedAt, now, ttl)
	}
	avgFreshness /= n

	sourceSaturation := math.Min(1, math.Sqrt(n)/math.Sqrt(3)) // √n-style scaling: saturates at 3 agreeing sources, matching the confidence formula's √n/√3 shape
	quality := params.QualityWeights.Freshness*avgFreshness +
		params.QualityWeights.Agreement*(1-dispersion) +
		params.QualityWeights.SourceSaturation*sourceSaturation +
		params.QualityWeights.MeanReliability*meanReliability
	quality = clamp01(quality)

	return domain.NormalizedPrice{
		Symbol:     symbol,
		PriceUSD:   consensusPrice,
		Currency:   currency,
		ObservedAt: now,
		Sources:    sources,
		Rejected:   allRejected,
		Consensus: domain.ConsensusInfo{
			Method:               "weighted_mean",
			ParticipatingSources: len(survivors),
			RejectedSources:      len(allRejected),
			DispersionPct:        dispersion,
			Confidence:           confidence,
		},
		Quality: domain.QualityScore(quality),
	}, nil
}

func toProvenance(s sourceInput, weight float64) domain.Provenance {
	return domain.Provenance{
		Provider:    s.raw.Provider,
		RawPriceUSD: s.raw.PriceUSD,
		ObservedAt:  s.raw.ObservedAt,
		LatencyMS:   s.raw.RawLatencyMS,
		Weight:      weight,
	}
}

func freshnessScore(observedAt, now time.Time, ttl time.Duration) float64 {
	if ttl <= 0 {
		return 1
	}
	age := now.Sub(observedAt)
	score := 1 - float64(age)/float64(ttl)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func medianAbsoluteDeviation(xs []float64, m float64) float64 {
	deviations := make([]float64, len(xs))
	for i, x := range xs {
		deviations[i] = math.Abs(x - m)
	}
	return median(deviations)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}
