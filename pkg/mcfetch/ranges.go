package mcfetch

// ByteRange is an inclusive range of byte offsets.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// PartitionRanges splits [0, total) into at most n contiguous inclusive ranges of
// ceil(total/n) bytes, the last one clipped to total-1. Ranges that would start at or past
// total are dropped, so there are never empty ranges. n is capped at total.
func PartitionRanges(total int64, n int) []ByteRange {
	if total <= 0 {
		return nil
	}

	if n < 1 {
		n = 1
	}

	if int64(n) > total {
		n = int(total)
	}

	chunkSize := (total + int64(n) - 1) / int64(n)
	ranges := make([]ByteRange, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * chunkSize
		if start >= total {
			break
		}

		ranges = append(ranges, ByteRange{Start: start, End: min(start+chunkSize-1, total-1)})
	}

	return ranges
}
