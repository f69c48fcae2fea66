// Package gomax implements a client driver for the MAX messenger
// real-time WebSocket protocol.
//
// A Client maintains one persistent connection, multiplexes concurrent
// requests over it with sequence-number correlation, demultiplexes
// server pushes into typed events, drives the phone/code authentication
// flow, and persists recoverable session state across restarts.
//
// Example:
//
//	opts := gomax.NewOptions()
//	opts.SessionPath = "bot.session"
//	opts.CodeProvider = func(ctx context.Context) (string, error) {
//	    return promptForCode()
//	}
//
//	client := gomax.New(opts)
//
//	client.On(gomax.EventNewMessage, func(payload any) {
//	    msg := payload.(*entity.Message)
//	    fmt.Printf("[%d] %s\n", msg.ChatID, msg.Text)
//	})
//
//	if err := client.Start(ctx, "+79990001122"); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop()
//
//	client.RunUntilStopped(ctx)
//
// On later runs the stored session token skips the phone flow entirely;
// pass an empty phone number to Start. Dropped connections are re-dialed
// with capped exponential backoff and the token is replayed, so the
// application only hears about it through another EventReady.
package gomax
