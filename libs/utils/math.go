package utils

import (
	"sort"
)

// 以下函数在data为空时返回-1

func Max(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := data[0]
	for _, datum := range data {
		if datum > res {
			res = datum
		}
	}
	return res
}

func Min(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := data[0]
	for _, datum := range data {
		if datum < res {
			res = datum
		}
	}
	return res
}

// Median returns the middle value of data; data itself is not reordered.
func Median(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func Avg(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := 0.0
	for _, datum := range data {
		res += datum
	}

	return res / float64(len(data))
}
