package eventhub

// Connectivity is a source of online/offline transitions and of the manual
// "user requested reconnect" signal. *netmon.Monitor implements it.
type Connectivity interface {
	OnStatusChange(fn func(online bool)) (unsubscribe func())
	OnUserReconnect(fn func()) (unsubscribe func())
}

// WatchConnectivity starts the channel whenever src reports the client back
// online and lets a user reconnect cut short a pending retry wait. After the
// channel gives up, the next user reconnect from src restarts it.
func (c *Channel) WatchConnectivity(src Connectivity) (unwatch func()) {
	c.mu.Lock()
	c.userSource = src
	ctx := c.ctx
	c.mu.Unlock()

	unStatus := src.OnStatusChange(func(online bool) {
		if !online {
			c.logger.Info("network offline")
			return
		}
		c.logger.Info("network online, starting event hub")
		go func() { _ = c.Start(ctx) }()
	})
	unUser := src.OnUserReconnect(func() {
		c.mu.Lock()
		pending := c.retry != nil
		c.mu.Unlock()
		if pending {
			go func() { _ = c.RetryNow() }()
		}
	})

	return func() {
		unStatus()
		unUser()
		c.mu.Lock()
		c.userSource = nil
		c.disarmUserReconnectLocked()
		c.mu.Unlock()
	}
}
