// Package channeltest provides reusable contract tests for feedcache.ChannelOpener implementations.
//
// Driver packages run it from their own tests with a publish hook that pushes a
// change through the same transport the opener listens on.
//
// Example pattern (driver test):
//
//	func TestNATSChannelContract(t *testing.T) {
//		conn := newTestConn(t)
//		opener := natschannel.New(natschannel.Config{Conn: conn, SubjectPrefix: "test"})
//
//		channeltest.RunChannelContract(t, opener, func(ctx context.Context, raw feedcache.RawChange) error {
//			return natschannel.Publish(conn, "test", raw)
//		}, channeltest.Options{Timeout: 2 * time.Second})
//	}
package channeltest
