package data

import (
	"fmt"
	"math/rand"
)

// SplitSpec sizes one side of a dataset split. A positive Count takes
// precedence over Ratio; with both zero the side is empty.
type SplitSpec struct {
	Count int
	Ratio float64
}

func (s SplitSpec) size(total int) (int, error) {
	if s.Count < 0 {
		return 0, fmt.Errorf("split count must be non-negative, got %d", s.Count)
	}
	if s.Count > 0 {
		return s.Count, nil
	}
	if s.Ratio < 0 || s.Ratio >= 1 {
		return 0, fmt.Errorf("split ratio must be in [0, 1), got %g", s.Ratio)
	}
	return int(s.Ratio * float64(total)), nil
}

// Split partitions a dataset into train, validation and test subsets.
// Validation and test samples are drawn from a shuffled index
// permutation; the remainder trains. The generator may be nil when
// both sides are empty.
func Split(ds Dataset, val, test SplitSpec, rng *rand.Rand) (train, validation, testing Dataset, err error) {
	total := ds.Len()
	valSize, err := val.size(total)
	if err != nil {
		return nil, nil, nil, err
	}
	testSize, err := test.size(total)
	if err != nil {
		return nil, nil, nil, err
	}
	if valSize+testSize >= total {
		return nil, nil, nil, fmt.Errorf("split of %d validation and %d test samples leaves no training data from %d", valSize, testSize, total)
	}
	if valSize == 0 && testSize == 0 {
		return ds, nil, nil, nil
	}
	if rng == nil {
		return nil, nil, nil, fmt.Errorf("splitting requires a random generator")
	}

	perm := rng.Perm(total)
	valIdx := append([]int(nil), perm[:valSize]...)
	testIdx := append([]int(nil), perm[valSize:valSize+testSize]...)
	trainIdx := append([]int(nil), perm[valSize+testSize:]...)

	train = &Subset{parent: ds, indices: trainIdx}
	if valSize > 0 {
		validation = &Subset{parent: ds, indices: valIdx}
	}
	if testSize > 0 {
		testing = &Subset{parent: ds, indices: testIdx}
	}
	return train, validation, testing, nil
}
