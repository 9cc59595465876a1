// Package natschannel provides a NATS-backed feedcache.ChannelOpener.
//
// Changes travel as JSON on subjects named "<prefix>.<table>". A topic
// without a table listens on "<prefix>.>".
//
// Example:
//
//	conn, _ := nats.Connect(nats.DefaultURL)
//	opener := natschannel.New(natschannel.Config{Conn: conn, SubjectPrefix: "feed"})
//	subs := feedcache.NewSubscriptionManager(opener)
package natschannel
