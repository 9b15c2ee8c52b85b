// Package event provides the notification plumbing shared by the room client.
//
// Two building blocks are offered:
//
//   - Listeners: a synchronous fan-out set. Emit calls handlers in
//     registration order on the caller's goroutine.
//   - Queue: an ordered asynchronous queue. Producers push from any
//     goroutine (transport callbacks included) and a single dispatch
//     goroutine delivers values in push order.
//
// Every registration returns a *Subscription. Owners collect their handles
// in a Group and release the group on every exit path, so no handler starts
// after its owner has been torn down. Release does not wait for a handler
// that is already running; Queue.Close does, and Queue.Stop is the
// non-waiting form for use inside a handler:
//
//	var subs event.Group
//	subs.Add(queue.Subscribe(onEvent))
//	defer subs.Release()
package event
