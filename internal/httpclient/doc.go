// Package httpclient sends the per-iteration HTTP request when a run has a
// target.
//
// # Request Building
//
//	builder, err := httpclient.NewRequestBuilder("GET", target, headers)
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx)
//
// # HTTP Client
//
// [NewClient] creates a client tuned for load generation with connection
// reuse:
//
//	client := httpclient.NewClient(30 * time.Second)
//
// [Requester] combines both and plugs into the runner.
package httpclient
