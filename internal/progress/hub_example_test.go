package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub shows a run's events reaching a sink in emit order.
func ExampleHub() {
	report := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			switch evt.Stage {
			case StagePageDone:
				fmt.Printf("%s %s broken=%d\n", evt.Stage, evt.URL, len(evt.BrokenImages))
			default:
				fmt.Println(evt.Stage)
			}
		}
		return nil
	})
	hub := NewHub(Config{FlushEvery: time.Minute}, report)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	ts := time.Unix(0, 0)
	hub.Emit(Event{RunID: runID, TS: ts, Stage: StageRunStart})
	hub.Emit(Event{RunID: runID, TS: ts, Stage: StagePageDone, URL: "https://example.com/p1", Status: 200})
	hub.Emit(Event{
		RunID:        runID,
		TS:           ts,
		Stage:        StagePageDone,
		URL:          "https://example.com/p2",
		Status:       200,
		BrokenImages: []string{"https://x/a.png", "https://x/b.png"},
	})
	hub.Emit(Event{RunID: runID, TS: ts, Stage: StageRunDone})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Println("batches delivered:", hub.Stats().Batches > 0)
	// Output:
	// RUN_START
	// PAGE_DONE https://example.com/p1 broken=0
	// PAGE_DONE https://example.com/p2 broken=2
	// RUN_DONE
	// batches delivered: true
}
