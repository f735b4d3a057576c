package storage

import "github.com/google/uuid"

// compareUUID orders two UUIDs byte-for-byte, used to break sort ties
// deterministically wherever the merge engine's ordering requirement
// applies.
func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
