// Package redischannel provides a Redis pub/sub backed feedcache.ChannelOpener.
//
// Changes travel as JSON on channels named "<prefix>:<table>". A topic
// without a table pattern-subscribes to "<prefix>:*".
//
// Example:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	opener := redischannel.New(redischannel.Config{Client: rdb, ChannelPrefix: "feed"})
//	subs := feedcache.NewSubscriptionManager(opener)
package redischannel
