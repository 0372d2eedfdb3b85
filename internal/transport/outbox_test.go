package transport

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/linechat-server/internal/core"
)

func TestOutboxDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	o := NewOutbox(8, func(p string) error {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		return nil
	}, nil)

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, o.Send(core.Raw(text)))
	}
	require.True(t, o.Close(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "a\nb\nc\n", strings.Join(got, ""))
	assert.ErrorIs(t, o.Send(core.Raw("late")), core.ErrConnClosed)
}

func TestOutboxFullQueueFails(t *testing.T) {
	release := make(chan struct{})
	o := NewOutbox(1, func(string) error {
		<-release
		return nil
	}, nil)
	defer func() {
		close(release)
		o.Close(time.Second)
	}()

	var failed error
	for i := 0; i < 5; i++ {
		if err := o.Send(core.Raw("x")); err != nil {
			failed = err
			break
		}
	}
	assert.ErrorIs(t, failed, core.ErrSendFailed)
}

func TestOutboxWriteErrorBreaks(t *testing.T) {
	fails := make(chan error, 1)
	o := NewOutbox(4, func(string) error { return errors.New("broken pipe") }, func(err error) { fails <- err })

	require.NoError(t, o.Send(core.Raw("x")))
	select {
	case err := <-fails:
		assert.EqualError(t, err, "broken pipe")
	case <-time.After(time.Second):
		t.Fatal("onFail not called")
	}
	assert.True(t, o.Broken())
	assert.ErrorIs(t, o.Send(core.Raw("y")), core.ErrSendFailed)
	o.Close(time.Second)
}
