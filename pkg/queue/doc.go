// ABOUTME: Bounded inter-stage queue package
// ABOUTME: Fixed-capacity channel with explicit disconnect on either end
// Package queue provides the bounded FIFO used between pcmlink stages.
//
// A full queue blocks its producer, which is the only backpressure in the
// pipeline. Either side can close its end; the other side then observes
// ErrDisconnected instead of blocking forever.
//
// Example:
//
//	q := queue.New[audio.Chunk](queue.DefaultCapacity)
//	go func() {
//	    defer q.CloseSend()
//	    for _, c := range chunks {
//	        if err := q.Push(ctx, c); err != nil {
//	            return
//	        }
//	    }
//	}()
//	for {
//	    c, err := q.Pop(ctx)
//	    if errors.Is(err, queue.ErrDisconnected) {
//	        break
//	    }
//	    _ = c
//	}
package queue
