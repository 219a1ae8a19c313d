package notifier

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"charge_point/notifier"
)

const requestSubject = "request"

// publisher and responder are the parts of *nats.Conn and *nats.Msg in use.
type publisher interface {
	Publish(subject string, data []byte) error
}

type responder interface {
	Respond(data []byte) error
}

type natsChargePointNotifier struct {
	notification chan notifier.Notification // events published by the charge points
	connection   *nats.Conn
	router       *notifier.CommandRouter
	url          string
	subscription *nats.Subscription
	done         chan struct{}
}

func (ncp *natsChargePointNotifier) SetChannel(notification chan notifier.Notification) {
	ncp.notification = notification
}

func (ncp *natsChargePointNotifier) notificationFromChargePoints(pub publisher, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case n := <-ncp.notification:
			ncp.publishEvent(pub, n)
		}
	}
}

func (ncp *natsChargePointNotifier) publishEvent(pub publisher, n notifier.Notification) {
	bt, err := json.Marshal(n.Data)
	if err != nil {
		log.Error(err)
		return
	}
	if err := pub.Publish(n.Topic, bt); err != nil {
		log.Errorf("publish %v: %v", n.Topic, err)
	}
}

func (ncp *natsChargePointNotifier) handleRequest(r responder, data []byte) {
	bt := ncp.router.Handle(data)
	log.Debugf("RequestHandler => Response, %v", string(bt))
	if err := r.Respond(bt); err != nil {
		log.Errorf("respond: %v", err)
	}
}

// requestHandler serves operator commands with NATS request/reply.
func (ncp *natsChargePointNotifier) requestHandler() error {
	sub, err := ncp.connection.Subscribe(requestSubject, func(m *nats.Msg) {
		ncp.handleRequest(m, m.Data)
	})
	if err != nil {
		return err
	}
	ncp.subscription = sub
	return nil
}

func (ncp *natsChargePointNotifier) Start() error {
	nc, err := nats.Connect(ncp.url)
	if err != nil {
		return err
	}
	ncp.connection = nc
	ncp.done = make(chan struct{})
	if ncp.notification != nil {
		go ncp.notificationFromChargePoints(nc, ncp.done)
	}
	return ncp.requestHandler()
}

func (ncp *natsChargePointNotifier) Stop() {
	if ncp.connection == nil {
		return
	}
	close(ncp.done)
	if ncp.subscription != nil {
		_ = ncp.subscription.Unsubscribe()
	}
	ncp.connection.Close()
	ncp.connection = nil
	log.Info("NatsStopped")
}

func New(url string, router *notifier.CommandRouter) *natsChargePointNotifier {
	if url == "" {
		url = nats.DefaultURL
	}
	return &natsChargePointNotifier{
		router: router,
		url:    url,
	}
}
