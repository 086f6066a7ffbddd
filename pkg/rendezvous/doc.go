// Package rendezvous provides the Redis schema and client that distributed
// diffusion ranks use to start a run together and to exchange their bands
// after every round.
//
// # Overview
//
// A run is a fixed-size group of ranks identified by a run ID. Rank 0 (the
// coordinator) loads the input image, publishes a start signal and the image,
// and wakes every peer. After that all ranks are symmetric: each round every
// rank stores its effective rows, drops an arrival token into every peer's
// inbox, waits for size-1 tokens in its own inbox, and then reads every
// rank's rows. The inbox lists make the exchange a barrier: no rank reads
// round k until all ranks have written round k. A rank drops its slice of
// round k-2 when it contributes round k, so at most two rounds of slices are
// stored at any time. After the last round the coordinator publishes a
// finish signal telling peers whether the output was written.
//
// # Multi-Run Support
//
// All Redis keys and Pub/Sub channels are namespaced by run ID so that several
// runs can share one Redis server. Every key is written with a TTL so that
// abandoned runs are reclaimed by Redis without an explicit cleanup step.
//
// # Usage Example
//
//	client, err := rendezvous.NewClient(&redis.Options{Addr: "localhost:6379"}, "run-42")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Rank 1 of 4 contributing round 0
//	if err := client.Contribute(ctx, 0, 1, 4, rows); err != nil {
//		log.Fatal(err)
//	}
//	if err := client.AwaitPeers(ctx, 0, 1, 4); err != nil {
//		log.Fatal(err)
//	}
//	slices, err := client.FetchSlices(ctx, 0, 4)
//
// # Redis Schema
//
// All Redis keys follow the pattern: diffuse:{run_id}:{entity}
//
// Start signal:  diffuse:{run_id}:start                       (hash)
// Finish signal: diffuse:{run_id}:finish                      (hash)
// Input image:   diffuse:{run_id}:image                       (string)
// Band slices:   diffuse:{run_id}:round:{round}:rank:{rank}   (string)
// Start inbox:   diffuse:{run_id}:inbox:{rank}:start          (list)
// Round inbox:   diffuse:{run_id}:inbox:{rank}:round:{round}  (list)
// Finish inbox:  diffuse:{run_id}:inbox:{rank}:finish         (list)
//
// Pub/Sub channel: diffuse:{run_id}:round_events
package rendezvous
