package kernel

import "context"

// ConnectZMQ dials the shell, control, iopub, and stdin sockets described by info
// and returns a ready Connection. The connection's background goroutines
// run until ctx is canceled or Close is called.
func ConnectZMQ(ctx context.Context, info ConnectionInfo, session, username string) (*Connection, error) {
	state := newConnState(ctx, session, username)
	if err := dialZMQ(state.ctx, info, state); err != nil {
		state.cancel()
		return nil, err
	}
	return &Connection{state: state}, nil
}

// ConnectWebSocket opens a multiplexed WebSocket to a running kernel on a
// Jupyter server at baseURL, authenticated with token, and returns a ready
// Connection.
func ConnectWebSocket(ctx context.Context, baseURL, kernelID, token, session, username string) (*Connection, error) {
	state := newConnState(ctx, session, username)
	if err := dialWebSocket(state.ctx, baseURL, kernelID, token, state); err != nil {
		state.cancel()
		return nil, err
	}
	return &Connection{state: state}, nil
}
