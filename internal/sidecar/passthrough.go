package sidecar

import (
	"context"
	"net/http"

	"git.home.luguber.info/inful/bootstrapd/internal/pubsub"
)

// Passthrough is the strategy for an externally managed server: always
// OPEN, fixed connection info, no spawn and no lease.
type Passthrough struct {
	info   ConnectionInfo
	status *pubsub.Value[Status]
	http   *http.Client
}

func NewPassthrough(url, token string) *Passthrough {
	return &Passthrough{
		info:   ConnectionInfo{URL: url, Token: token},
		status: pubsub.NewValue(StatusOpen),
		http:   &http.Client{},
	}
}

func (p *Passthrough) Status() Status                         { return StatusOpen }
func (p *Passthrough) Subscribe() (<-chan Status, func())     { return p.status.Subscribe() }
func (p *Passthrough) Watch() (Status, <-chan Status, func()) { return p.status.Watch() }
func (p *Passthrough) Connection() (ConnectionInfo, bool)     { return p.info, true }

func (p *Passthrough) StartConnection(context.Context) (ConnectionInfo, error) {
	return p.info, nil
}

func (p *Passthrough) CloseConnection(context.Context) error { return nil }

func (p *Passthrough) InitializeRemoteServer(ctx context.Context, path string) (bool, error) {
	return newClient(p.info, p.http).initialize(ctx, path)
}
