package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStorage_GetSet(t *testing.T) {
	s := NewStorage()

	assert.Nil(t, s.Get("key"))

	s.Set("key", []byte("content"), time.Minute)
	assert.Equal(t, []byte("content"), s.Get("key"))

	s.Set("key", []byte("new content"), time.Minute)
	assert.Equal(t, []byte("new content"), s.Get("key"))
}

func TestStorage_Get_expired(t *testing.T) {
	s := NewStorage()

	s.Set("key", []byte("content"), time.Nanosecond)
	time.Sleep(time.Millisecond)

	assert.Nil(t, s.Get("key"))
}

func TestStorage_DeleteMatching(t *testing.T) {
	s := NewStorage()

	s.Set("GET /posts?page=1", []byte("1"), time.Minute)
	s.Set("GET /posts?page=2", []byte("2"), time.Minute)
	s.Set("GET /other?", []byte("3"), time.Minute)

	s.DeleteMatching("/posts")

	assert.Nil(t, s.Get("GET /posts?page=1"))
	assert.Nil(t, s.Get("GET /posts?page=2"))
	assert.Equal(t, []byte("3"), s.Get("GET /other?"))
}

func TestStorage_Clear(t *testing.T) {
	s := NewStorage()

	s.Set("a", []byte("1"), time.Minute)
	s.Set("b", []byte("2"), time.Minute)

	s.Clear()

	assert.Nil(t, s.Get("a"))
	assert.Nil(t, s.Get("b"))
}

func TestStorage_concurrency(t *testing.T) {
	s := NewStorage()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := fmt.Sprintf("key-%d", i%10)
			s.Set(key, []byte("content"), time.Minute)
			s.Get(key)
			s.DeleteMatching("key-5")
		}(i)
	}
	wg.Wait()
}
