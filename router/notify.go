package router

import (
	"log"

	"github.com/gen2brain/beeep"
)

// Notifier is the presentation sink events are forwarded to.
type Notifier interface {
	// RequestPermission is called once per process before the first
	// notification is shown.
	RequestPermission() error
	Notify(title, body string) error
}

// DesktopNotifier surfaces events as OS desktop notifications.
type DesktopNotifier struct{}

func (DesktopNotifier) RequestPermission() error {
	// Desktop notifications need no runtime grant; the hook exists so sinks
	// that do need one (and tests) get asked exactly once.
	return nil
}

func (DesktopNotifier) Notify(title, body string) error {
	return beeep.Notify(title, body, "")
}

// LogNotifier writes notifications to the process log. It is the fallback
// sink when desktop notifications are disabled.
type LogNotifier struct{}

func (LogNotifier) RequestPermission() error { return nil }

func (LogNotifier) Notify(title, body string) error {
	log.Printf("notification: %s: %s", title, body)
	return nil
}
