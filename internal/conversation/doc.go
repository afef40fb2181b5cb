// Package conversation runs live chat turns against the language-model provider.
//
// # Overview
//
// The Manager sits between the HTTP handlers and the provider. Each call to
// Start creates a session keyed by a fresh request id and returns at once;
// the turn then runs in its own goroutine:
//
//  1. Resolve the model (explicit or configured default)
//  2. Load the API key, failing the turn when none is configured
//  3. Check the conversation exists
//  4. Save the user's prompt and touch the conversation
//  5. Send the full history to the provider and relay each chunk as a delta
//  6. Save the reply when it is not blank, then emit done
//
// Record first, then act: the prompt is persisted before the provider is
// called, so a failed turn still leaves the user's message in history.
//
// # Events
//
// For one request id a Sink sees zero or more delta events followed by
// exactly one done or error event:
//
//	delta {requestId, conversationId, delta}
//	done  {requestId, conversationId, messageId, cancelled}
//	error {requestId, conversationId, error}
//
// Sinks never block the session. ChanSink buffers for one consumer;
// EventBroadcaster fans out to every subscriber of a conversation.
//
// # Cancellation
//
// Cancel marks the session and cancels its context. The session checks the
// mark between chunks, drops the partial reply and emits
// done{messageId: null, cancelled: true}. Cancelling an unknown or finished
// request id does nothing.
package conversation
