package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/types"
)

func TestSyncCursorProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: whatever the failure pattern, the cursor never moves backwards and
	// repeated daily jobs converge on every transaction of the day exactly once
	properties.Property("cursor is monotonic and ingestion converges", prop.ForAll(
		func(offsets []int64, failures []bool) bool {
			h := newHarness(t, nil)
			ctx := context.Background()
			for i, off := range offsets {
				h.processor.AddTransactions(types.PlatformRef(), tx(fmt.Sprintf("txn_%03d", i), testDay.Unix()+off, 1))
			}

			var last models.Cursor
			rounds := append(append([]bool(nil), failures...), false)
			for _, fail := range rounds {
				if fail {
					h.processor.FailListing(types.PlatformRef(), 2, nil)
				}
				if _, err := h.orch.EnqueueDailyJobs(ctx, testDay, types.ClassPlatform, 1, testNow); err != nil {
					return false
				}
				if _, err := h.worker.RunBatch(ctx, testNow, 1); err != nil {
					return false
				}
				account, err := h.accounts.GetByID(ctx, h.platform.ID)
				if err != nil {
					return false
				}
				if last.After(account.Cursor()) {
					return false
				}
				last = account.Cursor()
			}

			if h.ledger.Count() != len(offsets) {
				return false
			}
			if len(offsets) == 0 {
				return last == models.Cursor{}
			}
			var maxTS int64
			for _, off := range offsets {
				if testDay.Unix()+off > maxTS {
					maxTS = testDay.Unix() + off
				}
			}
			return last.TS == maxTS
		},
		gen.SliceOfN(8, gen.Int64Range(0, 86399)),
		gen.SliceOfN(4, gen.Bool()),
	))

	properties.TestingRun(t)
}
