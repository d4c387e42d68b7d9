package domain

import "context"

type workerNameKeyType struct{}

var workerNameKey = workerNameKeyType{}

// WithWorkerName annotates ctx with the name of the worker loop a client
// connection is permanently bound to (spec section 5: "permanently bound to
// one worker thread"). Filters read it back with WorkerName to check that
// every request on one client connection observes the same bound worker.
func WithWorkerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workerNameKey, name)
}

// WorkerName returns the name set by WithWorkerName, if any.
func WorkerName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(workerNameKey).(string)
	return name, ok
}

type serverWorkerNameKeyType struct{}

var serverWorkerNameKey = serverWorkerNameKeyType{}

// WithServerWorkerName annotates ctx with the name of the server-worker
// loop a ProxyToServerConnection was bound to at dial time.
func WithServerWorkerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, serverWorkerNameKey, name)
}

// ServerWorkerName returns the name set by WithServerWorkerName, if any.
func ServerWorkerName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(serverWorkerNameKey).(string)
	return name, ok
}
