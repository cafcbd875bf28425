package psychics

import (
	"strconv"
	"strings"
)

// CompareVersions compares two dot separated version strings component by
// component. Numeric components compare numerically, other components
// lexicographically, and a numeric component always ranks above a non numeric
// one. When the shared prefix is equal the version with more components is
// greater. The result is negative, zero or positive like strings.Compare.
func CompareVersions(a, b string) int {
	splitA := strings.Split(a, ".")
	splitB := strings.Split(b, ".")
	count := min(len(splitA), len(splitB))

	for i := 0; i < count; i++ {
		partA, partB := splitA[i], splitB[i]
		numA, errA := strconv.Atoi(partA)
		numB, errB := strconv.Atoi(partB)

		switch {
		case errA == nil && errB == nil:
			if numA != numB {
				if numA < numB {
					return -1
				}
				return 1
			}
		case errA == nil:
			return 1
		case errB == nil:
			return -1
		default:
			if c := strings.Compare(partA, partB); c != 0 {
				return c
			}
		}
	}

	switch {
	case len(splitA) < len(splitB):
		return -1
	case len(splitA) > len(splitB):
		return 1
	}
	return 0
}
