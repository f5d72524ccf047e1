// Package engine implements the streaming array operations of rasterstats:
// row reversal of flattened 2D datasets and the reduction of running
// sum, sum-of-squares and count accumulators to mean and standard deviation.
//
// Every operation works through bounded windows, so memory use depends on
// the batch size and never on the dataset size. Outputs carry a completion
// flag; an operation whose outputs are all complete is skipped, and partial
// outputs left by an interrupted run are removed and rebuilt.
//
// Basic usage:
//
//	f, err := store.OpenReadWrite("survey.rst")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//
//	rev := &engine.Reverser{Store: f, RowBatch: 100}
//	if _, err := rev.Reverse(ctx, "/g1/sum", 2048, 1024); err != nil {
//	    log.Fatal(err)
//	}
//
//	red := &engine.Reducer{Store: f, Batch: 1_000_000}
//	status, err := red.Reduce(ctx, "/g1")
package engine
