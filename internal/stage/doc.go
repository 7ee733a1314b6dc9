// Package stage adapts external inference services behind a uniform interface.
//
// Each of the five analysis services (transcription, vocal emotion, video
// features, contextual inference, cause extraction) is reached through a
// Stage, which carries its scheduling policy alongside the transport:
//
//	type Stage interface {
//	    Name() string
//	    Required() bool
//	    Timeout() time.Duration
//	    Invoke(ctx context.Context, req Request) (*Result, error)
//	}
//
// The orchestrator applies Timeout() as a context deadline around each
// Invoke call; the adapter itself never sleeps past its context.
//
// # Contract
//
// Stages speak a small JSON contract:
//
//	POST {base}/invoke
//	{"payload": "...", "prior": {"transcript": "..."}}
//	→ 200 {"result": "...", "confidence": 0.87}
//
// The prior block is only present on second-tier invocations. A non-200
// answer or an expired deadline yields an error; the caller records the
// stage as absent rather than failing the packet.
//
// # Scheduling Defaults
//
// Every stage declares a default required flag and timeout, overridable
// per stage in configuration. The pipeline-wide default_stage_timeout
// sits between the two: stage config wins over it, and it wins over the
// declared defaults.
//
// # Retries
//
// Transient failures (network errors, 5xx, 429) are retried with
// exponential backoff and jitter, up to the configured max_retries.
// Client errors other than 429 are never retried.
//
// # Transcription
//
// The transcription stage additionally accepts inline media: audio and
// video payloads that decode as base64 are uploaded as a multipart file
// part instead of the JSON body.
package stage
