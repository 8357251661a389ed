package ragpg

import "sort"

// rrfK is the Reciprocal Rank Fusion constant. Rank r contributes
// weight/(r+rrfK); 60 is the value from the original RRF paper and is
// fixed, not configurable.
const rrfK = 60

// Fused ranking sources.
const (
	fusionSourceVector = "vector"
	fusionSourceGraph  = "graph"
)

// fuseRanked merges a vector ranking and a graph ranking with Reciprocal
// Rank Fusion. The key spaces are disjoint ("chunk:" vs "node:" prefixes)
// so no key accumulates from both lists. Output is sorted by descending
// fused score; exact ties rank vector entries before graph entries, then
// by original rank. The result is truncated to topK.
func fuseRanked(vectorKeys, graphKeys []string, vectorWeight, graphWeight float64, topK int) []FusedResult {
	fused := make([]FusedResult, 0, len(vectorKeys)+len(graphKeys))

	for i, key := range vectorKeys {
		rank := i + 1
		fused = append(fused, FusedResult{
			Key:    key,
			Source: fusionSourceVector,
			Score:  vectorWeight / float64(rank+rrfK),
			Rank:   rank,
		})
	}
	for i, key := range graphKeys {
		rank := i + 1
		fused = append(fused, FusedResult{
			Key:    key,
			Source: fusionSourceGraph,
			Score:  graphWeight / float64(rank+rrfK),
			Rank:   rank,
		})
	}

	sort.SliceStable(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Source != b.Source {
			return a.Source == fusionSourceVector
		}
		return a.Rank < b.Rank
	})

	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
