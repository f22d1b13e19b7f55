package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesEverySubscriberInOrder(t *testing.T) {
	var b Bus[int]
	var got []string
	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })

	b.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSelfRemovalDuringDispatch(t *testing.T) {
	var b Bus[int]
	calls := map[string]int{}
	var unsubA Unsubscription
	unsubA = b.Subscribe(func(int) {
		calls["a"]++
		unsubA()
	})
	b.Subscribe(func(int) { calls["b"]++ })
	b.Subscribe(func(int) { calls["c"]++ })

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, calls["a"])
	assert.Equal(t, 2, calls["b"])
	assert.Equal(t, 2, calls["c"])
}

func TestRemovingLaterListenerDuringDispatchSkipsIt(t *testing.T) {
	var b Bus[int]
	calls := map[string]int{}
	var unsubC Unsubscription
	b.Subscribe(func(int) {
		calls["a"]++
		unsubC()
	})
	b.Subscribe(func(int) { calls["b"]++ })
	unsubC = b.Subscribe(func(int) { calls["c"]++ })

	b.Publish(1)

	assert.Equal(t, 1, calls["a"])
	assert.Equal(t, 1, calls["b"])
	assert.Equal(t, 0, calls["c"])
	assert.Equal(t, 2, b.Len())
}

func TestSubscribeDuringDispatchTakesEffectNextPublish(t *testing.T) {
	var b Bus[int]
	late := 0
	added := false
	b.Subscribe(func(int) {
		if !added {
			added = true
			b.Subscribe(func(int) { late++ })
		}
	})

	b.Publish(1)
	assert.Equal(t, 0, late)
	b.Publish(2)
	assert.Equal(t, 1, late)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	var b Bus[string]
	unsub := b.Subscribe(func(string) {})
	b.Subscribe(func(string) {})
	unsub()
	unsub()
	assert.Equal(t, 1, b.Len())
}
