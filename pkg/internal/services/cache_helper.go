package services

import (
	"context"

	localCache "github.com/caretransit/commlink/pkg/internal/cache"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
)

func invalidCacheTags(tags ...string) {
	cacheManager := cache.New[any](localCache.S)
	marshal := marshaler.New(cacheManager)

	_ = marshal.Invalidate(
		context.Background(),
		store.WithInvalidateTags(tags),
	)
}
