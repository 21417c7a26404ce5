package origin

// TransferStats is the observer payload surfaced while a session is Active.
// Modeled after the teacher's connection-telemetry callbacks in ws.Client.
type TransferStats struct {
	BytesSent      int64
	ActiveRequests int
}

// Observer is the polymorphic callback set the spec calls for: the Origin
// agent is observer-agnostic over url/stats/expired/disconnect/error events.
// Any field may be left nil; nil callbacks are simply not invoked.
type Observer struct {
	OnURL        func(url string)
	OnStats      func(TransferStats)
	OnExpired    func()
	OnDisconnect func(err error)
	OnError      func(err error)
}

func (o Observer) notifyURL(url string) {
	if o.OnURL != nil {
		o.OnURL(url)
	}
}

func (o Observer) notifyStats(s TransferStats) {
	if o.OnStats != nil {
		o.OnStats(s)
	}
}

func (o Observer) notifyExpired() {
	if o.OnExpired != nil {
		o.OnExpired()
	}
}

func (o Observer) notifyDisconnect(err error) {
	if o.OnDisconnect != nil {
		o.OnDisconnect(err)
	}
}

func (o Observer) notifyError(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}
