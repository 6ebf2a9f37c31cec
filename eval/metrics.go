package eval

// RetrievalKValues are the cut-offs reported for precision and recall.
var RetrievalKValues = []int{1, 3, 5, 10}

// precisionAtK is the fraction of the top-k retrieved ids that are expected.
func precisionAtK(got, expected []string, k int) float64 {
	top := topK(got, k)
	if len(top) == 0 {
		return 0
	}
	want := set(expected)
	relevant := 0
	for _, id := range top {
		if want[id] {
			relevant++
		}
	}
	return float64(relevant) / float64(len(top))
}

// recallAtK is the fraction of expected ids found in the top k.
func recallAtK(got, expected []string, k int) float64 {
	if len(expected) == 0 {
		return 0
	}
	have := set(topK(got, k))
	found := 0
	for _, id := range expected {
		if have[id] {
			found++
		}
	}
	return float64(found) / float64(len(expected))
}

// reciprocalRank is 1/rank of the first expected id, or 0.
func reciprocalRank(got, expected []string) float64 {
	want := set(expected)
	for i, id := range got {
		if want[id] {
			return 1 / float64(i+1)
		}
	}
	return 0
}

func topK(ids []string, k int) []string {
	if k > 0 && len(ids) > k {
		return ids[:k]
	}
	return ids
}

func set(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// dedupe keeps the first occurrence of each id.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
