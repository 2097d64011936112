// Package commandqueue runs tasks on named lanes with FIFO ordering per lane.
//
// Tasks in the same lane start in enqueue order and at most the lane's
// concurrency run at once. Different lanes run independently. The gateway
// uses the "config" lane so configuration and authentication updates apply
// one at a time in the order they arrived.
//
//	queue := commandqueue.New(logger)
//	defer queue.Close()
//	_, err := queue.Enqueue(ctx, commandqueue.LaneConfig, func(ctx context.Context) (interface{}, error) {
//		return nil, b.Configure(settings)
//	})
package commandqueue
