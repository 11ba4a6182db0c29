// Package httpclient wraps the WebSocket transport used by the registry
// client.
//
// This is an internal package and is not part of the public API.
//
// The [WSConn] type wraps a WebSocket connection with typed JSON read/write
// helpers. It backs the worker's duplex link to the registry:
//
//	ws, err := httpclient.DialWS(ctx, "wss://registry.example.com/ws", nil)
//	if err != nil { return err }
//	defer ws.Close()
//	err = ws.WriteJSON(ctx, request)
package httpclient
