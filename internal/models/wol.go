package models

import "time"

// WOLConfig holds Wake-on-LAN configuration.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollAddr      string        // host:port to dial until the target accepts connections
	Timeout       time.Duration // max time to wait for target
	PollInterval  time.Duration // how often to dial the address
	StabilizeWait time.Duration // wait after target responds
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}
