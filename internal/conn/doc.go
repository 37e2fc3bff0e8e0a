// Package conn owns the WebSocket connections used to drive remote pipeline
// runs. A Manager opens one connection per handle key, sends the job payload
// as the first message, streams progress events to a single callback, and
// tears the connection down exactly once no matter how the run settles:
// terminal event, remote failure, malformed message, transport error,
// deadline, caller cancellation, or CloseAll.
package conn
