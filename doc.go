// Package multireq sends HTTP requests one at a time or as batches with a
// bounded number of concurrent transfers.
//
// A Request is configured with fluent setters and moves through the states
// Created, Prepared, Sent, Completed and Closed. Every request owns an
// EventBus firing before-send, then success or error, then complete:
//
//	req := multireq.New("https://api.example.com/users").
//	    SetResponseType("json").
//	    SetTimeout(10).
//	    On(multireq.EventSuccess, multireq.HandlerFunc(func(resp response.Response, r *multireq.Request, _ ...any) {
//	        fmt.Println(resp.Info().StatusCode)
//	    }))
//	resp, err := req.Send(ctx)
//
// An Executor runs many requests over one transport. Requests are prepared
// and registered with a multiplexer until the concurrency limit is reached;
// each finished transfer is completed and replaced by the next request:
//
//	exec := multireq.NewExecutor(
//	    multireq.WithConcurrency(4),
//	    multireq.WithTransport(transport.NewHTTP(transport.WithRateLimit(20, 5))),
//	)
//	exec.SetCommonRequestOptions(map[string]any{"userAgent": "multireq"})
//	for _, u := range urls {
//	    exec.AddRequest(multireq.New(u))
//	}
//	n, err := exec.Execute(ctx)
//
// Transfer failures never surface as returned errors: they are recorded on
// the response (see response.Response.Err) and fire the error event.
// Returned errors are configuration errors and match ErrConfiguration.
package multireq
