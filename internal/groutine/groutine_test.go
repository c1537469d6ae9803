package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NameIsVisibleInContext(t *testing.T) {
	got := make(chan string, 1)
	Go(context.Background(), "worker-42", func(ctx context.Context) {
		got <- GetName(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGetName_Missing(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, "", GetName(nil))
}

func TestGroup_WaitTimeout(t *testing.T) {
	var g Group
	release := make(chan struct{})

	g.Go(context.Background(), "blocked", func(ctx context.Context) {
		<-release
	})
	assert.False(t, g.WaitTimeout(20*time.Millisecond))

	close(release)
	assert.True(t, g.WaitTimeout(time.Second))
}

func TestGroup_WaitForCompleted(t *testing.T) {
	var g Group
	for i := 0; i < 5; i++ {
		g.Go(context.Background(), "quick", func(ctx context.Context) {})
	}
	g.Wait()
	assert.True(t, g.WaitTimeout(0))
}
