// ABOUTME: Package documentation for the response generation layer
// ABOUTME: Describes prompt assembly and the degradation rules

// Package respond turns an analyzed inbound message into the
// assistant's reply.
//
// # Prompt Assembly
//
// The prompt is assembled from three sources, each optional:
//
//   - the conversation's active memory summary
//   - the unsummarized tail of recent messages
//   - the analysis signals from the message's packet
//
// Absent sources are omitted from the prompt rather than rendered as
// placeholders, so a packet with only a transcript still produces a
// coherent prompt. Store reads are the only hard failures; if the
// generative service itself fails, the responder substitutes a fixed
// fallback reply so the conversation never stalls on a model outage.
//
// The responder does not assign sequence numbers or persist anything.
// The router owns ordering and storage.
package respond
