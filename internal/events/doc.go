// Package events provides the notification hook fired on task status
// changes.
//
// The task queue emits a StatusEvent after every durable status or progress
// mutation. Subscribers (the WebSocket push layer, metrics, logging) register
// handlers on an emitter without the queue knowing about them, keeping the
// engine decoupled from its observers.
package events
