package peerlink

import (
	"log/slog"
	"time"
)

// StartLink runs a single link outside a Manager. Events go to notify.
func StartLink(localID, remoteID string, role Role, timeout time.Duration,
	factory TransportFactory, sig Signaler, notify func(Event), logger *slog.Logger) (*Link, error) {
	l, err := newLink(linkConfig{
		localID:  localID,
		remoteID: remoteID,
		role:     role,
		timeout:  timeout,
		factory:  factory,
		signaler: sig,
		hello:    func() Hello { return Hello{Name: localID} },
		notify:   func(_ *Link, ev Event) { notify(ev) },
		logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	l.run()
	return l, nil
}
