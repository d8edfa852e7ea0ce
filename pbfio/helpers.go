package pbfio

import (
	"math"
	"os"
	"strconv"
)

func openFile(path string) (*os.File, error) {
	return os.Open(path)
}

func parseEleOrNaN(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
