package observe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedPublish(t *testing.T) {
	var f Feed[int]

	var a, b []int
	unsubA := f.Subscribe(func(v int) { a = append(a, v) })
	f.Subscribe(func(v int) { b = append(b, v) })

	f.Publish(1)
	unsubA()
	unsubA() // idempotent
	f.Publish(2)

	assert.Equal(t, []int{1}, a)
	assert.Equal(t, []int{1, 2}, b)
	assert.Equal(t, 1, f.Len())
}

func TestFeedOnce(t *testing.T) {
	var f Feed[string]

	var got []string
	f.Once(func(v string) { got = append(got, v) })

	f.Publish("first")
	f.Publish("second")

	assert.Equal(t, []string{"first"}, got)
	assert.Equal(t, 0, f.Len())
}

func TestFeedOnceCancel(t *testing.T) {
	var f Feed[int]

	called := false
	cancel := f.Once(func(int) { called = true })
	cancel()
	f.Publish(1)

	assert.False(t, called)
}

func TestValueDistinct(t *testing.T) {
	v := NewValue(false)

	var got []bool
	unsub := v.Subscribe(func(b bool) { got = append(got, b) })
	defer unsub()

	assert.False(t, v.Set(false))
	assert.True(t, v.Set(true))
	assert.False(t, v.Set(true))
	assert.True(t, v.Set(false))

	assert.Equal(t, []bool{false, true, false}, got)
}

func TestValueOnChangeSkipsCurrent(t *testing.T) {
	v := NewValue("a")

	var got []string
	v.OnChange(func(s string) { got = append(got, s) })
	v.Set("b")

	assert.Equal(t, []string{"b"}, got)
	assert.Equal(t, "b", v.Get())
}

func TestValueConcurrentSetKeepsOrder(t *testing.T) {
	v := NewValue(0)

	var mu sync.Mutex
	last := 0
	outOfOrder := false
	v.OnChange(func(n int) {
		mu.Lock()
		defer mu.Unlock()
		if n != v.Get() {
			outOfOrder = true
		}
		last = n
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v.Set(n)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.False(t, outOfOrder, "subscriber saw a value other than the current one")
	assert.Equal(t, v.Get(), last)
}
