// Package chatsync is a client-side synchronization cache for federated chat
// messages.
//
// The cache sits between a UI and a message host. It keeps a cursor-paginated
// snapshot of each subscribed message stream, applies optimistic sends so the
// user's own messages appear instantly, folds in live WebSocket updates, and
// reconciles whatever was missed while offline.
//
// The entry point is Cache:
//
//	store := kv.NewMemoryStore()
//	cache, err := chatsync.New(chatsync.Config{
//		Transport: transport.NewHTTP(baseURL, token, log),
//		Store:     store,
//		Logger:    log,
//	})
//	if err != nil { ... }
//
//	updates, cancel, err := cache.Subscribe(models.ChannelScope(communityID, channelID))
//
// Every mutation goes through a per-scope merge queue, so subscribers only
// ever observe complete snapshots.
package chatsync
