// Package collector buffers analytics events in a durable local queue and
// delivers them to the ingestion endpoint.
//
// Producers (input handlers, page lifecycle hooks, feature probes and the
// idle detector) append events to the Queue. The Engine drains it in
// batches, either periodically over a blocking transport or, when the host
// is about to go away, over a fire-and-forget beacon. Events that could not
// be handed off are put back at the head of the queue.
package collector
