package feed

import (
	"math/rand"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
)

// GenerateRecords builds n records with sequences 1..n. The same seed always
// yields the same stream.
func GenerateRecords(n int, symbols []string, seed int64) []codec.Record {
	rng := rand.New(rand.NewSource(seed))
	records := make([]codec.Record, 0, n)
	for i := 1; i <= n; i++ {
		side := codec.SideBuy
		if rng.Intn(2) == 1 {
			side = codec.SideSell
		}
		records = append(records, codec.Record{
			Symbol:   codec.NewSymbol(symbols[rng.Intn(len(symbols))]),
			Side:     side,
			Quantity: int32(1 + rng.Intn(100)*10),
			Price:    int32(50 + rng.Intn(5000)),
			Sequence: int32(i),
		})
	}
	return records
}
