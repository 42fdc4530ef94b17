// Package redis connects to Redis with go-redis and provides the distributed
// lock used to keep lifecycle operations on one subscription from running in
// two processes at once.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	locker := redis.NewLocker(client,
//		redis.WithLockPrefix(cfg.LockPrefix),
//		redis.WithPollInterval(cfg.LockPollInterval),
//	)
//	svc := subscription.NewService(store, resolver, subscription.WithLocker(locker, 30*time.Second))
//
// A lock is a key set with SET NX and a random token. It is released by a
// script that deletes the key only while it still holds that token, and
// expires on its own after the TTL if the holder dies.
package redis
