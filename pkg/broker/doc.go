/*
Package broker delivers committed messages to online recipients.

Generalized from a global pub/sub broadcast bus into per-recipient FIFO
queues: a Publish only reaches subscriptions for that message's recipient,
never all subscribers.

	┌─────────────────── SUBSCRIPTION BROKER ──────────────────┐
	│  users["bob"] -> { *Subscription, *Subscription, ... }    │
	│  Publish(msg) -> fan out to users[msg.Recipient] only     │
	│  full queue   -> Done closed, subscription dropped        │
	└────────────────────────────────────────────────────────────┘
*/
package broker
