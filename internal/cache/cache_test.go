package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"vidgrab/internal/media"
)

func ref(i int) media.ContentRef {
	return media.ContentRef{ID: fmt.Sprintf("vid%08d", i)}
}

func sampleMetadata(i int) *media.VideoMetadata {
	return &media.VideoMetadata{
		ID:       ref(i).ID,
		Title:    fmt.Sprintf("Video %d", i),
		Duration: 60 + i,
		VideoFormats: []media.FormatDescriptor{
			{Kind: media.Video, ID: "22", Label: "720p", Ext: "mp4", Height: 720, Bitrate: 1500},
		},
		AudioFormats: []media.FormatDescriptor{
			{Kind: media.Audio, ID: "140", Label: "128kbps m4a", Ext: "m4a", Bitrate: 128},
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c, err := New(10)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	md := sampleMetadata(1)
	c.Put(ctx, ref(1), md)

	got, ok := c.Get(ctx, ref(1))
	if !ok {
		t.Fatal("expected hit")
	}
	if got != md {
		t.Error("Get returned a different value than Put stored")
	}
	if _, ok := c.Get(ctx, ref(2)); ok {
		t.Error("unexpected hit")
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	c, err := New(5)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		c.Put(ctx, ref(i), sampleMetadata(i))
		if c.Len() > 5 {
			t.Fatalf("Len() = %d after %d puts", c.Len(), i+1)
		}
	}
}

func TestGetCountsAsUse(t *testing.T) {
	c, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c.Put(ctx, ref(i), sampleMetadata(i))
	}
	// Touch the oldest so the next insert evicts ref(1) instead.
	if _, ok := c.Get(ctx, ref(0)); !ok {
		t.Fatal("expected hit")
	}
	c.Put(ctx, ref(3), sampleMetadata(3))

	if _, ok := c.Get(ctx, ref(0)); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get(ctx, ref(1)); ok {
		t.Error("least recently used entry survived")
	}
}

func TestInvalidate(t *testing.T) {
	c, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c.Put(ctx, ref(1), sampleMetadata(1))
	c.Invalidate(ctx, ref(1))
	if _, ok := c.Get(ctx, ref(1)); ok {
		t.Error("invalidated entry still present")
	}
}

func TestPlaylistAndVideoKeysDistinct(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c.Put(ctx, media.ContentRef{ID: "same"}, &media.VideoMetadata{Title: "video"})
	c.Put(ctx, media.ContentRef{ID: "same", Playlist: true}, &media.VideoMetadata{Title: "playlist", IsPlaylist: true})

	got, _ := c.Get(ctx, media.ContentRef{ID: "same"})
	if got == nil || got.Title != "video" {
		t.Errorf("video entry = %+v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	const capacity = 8
	c, err := New(capacity)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				n := (g*7 + i) % 20
				if i%3 == 0 {
					c.Put(ctx, ref(n), sampleMetadata(n))
					continue
				}
				if md, ok := c.Get(ctx, ref(n)); ok {
					if md.ID != ref(n).ID || len(md.VideoFormats) != 1 || len(md.AudioFormats) != 1 {
						t.Errorf("torn read for %s: %+v", ref(n).ID, md)
						return
					}
				}
				if l := c.Len(); l > capacity {
					t.Errorf("Len() = %d > %d", l, capacity)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "metadata.db")
	ctx := context.Background()

	backend, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(2, WithBackend(backend))
	if err != nil {
		t.Fatal(err)
	}
	c.Put(ctx, ref(1), sampleMetadata(1))
	c.Put(ctx, ref(2), sampleMetadata(2))
	c.Put(ctx, ref(3), sampleMetadata(3)) // evicts ref(1) from memory only
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	// A new process starts warm from the database.
	backend, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err = New(2, WithBackend(backend))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got, ok := c.Get(ctx, ref(1))
	if !ok {
		t.Fatal("expected L2 hit")
	}
	if got.Title != "Video 1" || got.VideoFormats[0].Height != 720 || got.AudioFormats[0].Kind != media.Audio {
		t.Errorf("decoded = %+v", got)
	}
	if c.Len() != 1 {
		t.Errorf("L2 hit should populate memory, Len() = %d", c.Len())
	}

	c.Invalidate(ctx, ref(1))
	if _, ok, err := backend.Load(ctx, ref(1).Key()); ok || err != nil {
		t.Errorf("Load after Invalidate = %v, %v", ok, err)
	}
}

func TestRedisBackend(t *testing.T) {
	url := os.Getenv("VIDGRAB_TEST_REDIS")
	if url == "" {
		t.Skip("VIDGRAB_TEST_REDIS not set")
	}
	ctx := context.Background()
	backend, err := OpenRedis(ctx, url, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	key := ref(42).Key()
	if err := backend.Save(ctx, key, sampleMetadata(42)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := backend.Load(ctx, key)
	if err != nil || !ok || got.Title != "Video 42" {
		t.Errorf("Load = %+v, %v, %v", got, ok, err)
	}
	if err := backend.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
}

func TestOpenBackend(t *testing.T) {
	b, err := OpenBackend(context.Background(), "none", "")
	if err != nil || b != nil {
		t.Errorf("none backend = %v, %v", b, err)
	}
	if _, err := OpenBackend(context.Background(), "memcached", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}
