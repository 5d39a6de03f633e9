package fbot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAPIServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	fake := newFakeSessionHandler()
	b := newTestBot(t, fake)
	b.config.ShutdownTimeout = time.Second
	b.config.API.Listen = "127.0.0.1:0"
	api := newAPI(b, b.config.API)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- api.Serve(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down within the configured timeout")
	}
}
