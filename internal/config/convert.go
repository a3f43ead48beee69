package config

import (
	"time"

	"github.com/danmuck/stompctl/internal/client"
	"github.com/danmuck/stompctl/internal/stomp"
)

// ClientConfig converts c into the Manager configuration.
func (c Config) ClientConfig() client.Config {
	opts := stomp.DefaultOptions()
	opts.Session = c.Session
	opts.VHost = c.VHost
	opts.Login = c.Login
	opts.Passcode = c.Passcode
	return client.Config{
		Endpoint: c.Endpoint,
		Budget:   c.Budget,
		Options:  opts,
	}
}

// File renders c back into its on-disk shape.
func (c Config) File() File {
	return File{
		Host:                  c.Endpoint.Host,
		Port:                  c.Endpoint.Port,
		VHost:                 c.VHost,
		Login:                 c.Login,
		Passcode:              c.Passcode,
		Destination:           c.Destination,
		ConnectTimeout:        formatDuration(c.Session.ConnectTimeout),
		ReconnectAttemptsMax:  c.Budget.AttemptsMax,
		HeartbeatSend:         formatDuration(c.Session.HeartbeatSend),
		HeartbeatReceive:      formatDuration(c.Session.HeartbeatReceive),
		DisconnectGrace:       formatDuration(c.Session.DisconnectGrace),
		BackoffInitial:        formatDuration(c.Session.Backoff.InitialDelay),
		SecurityMode:          string(c.Session.SecurityMode),
		TLSEnabled:            c.Session.TLS.Enabled,
		TLSMutual:             c.Session.TLS.Mutual,
		TLSInsecureSkipVerify: c.Session.TLS.InsecureSkipVerify,
		TLSServerName:         c.Session.TLS.ServerName,
		TLSCAFile:             c.Session.TLS.CAFile,
		TLSCertFile:           c.Session.TLS.CertFile,
		TLSKeyFile:            c.Session.TLS.KeyFile,
		AdminAddr:             c.Admin.Addr,
		AdminCorsOrigins:      c.Admin.CorsOrigins,
		AdminToken:            c.Admin.Token,
	}
}

func formatDuration(d time.Duration) string {
	return d.String()
}
