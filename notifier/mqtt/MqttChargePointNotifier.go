package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"charge_point/notifier"
)

const replySuffix = "/reply"

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// mqttChargePointNotifier serves the same command contract as the NATS
// notifier. Commands arrive on commandTopic, responses go to
// commandTopic+"/reply" and events to eventTopic/<topic>.
type mqttChargePointNotifier struct {
	notification chan notifier.Notification
	client       mqtt.Client
	router       *notifier.CommandRouter
	commandTopic string
	eventTopic   string
	done         chan struct{}
}

type Options struct {
	Broker       string
	Username     string
	Password     string
	CommandTopic string
	EventTopic   string
}

func New(options Options, router *notifier.CommandRouter) *mqttChargePointNotifier {
	n := &mqttChargePointNotifier{
		router:       router,
		commandTopic: options.CommandTopic,
		eventTopic:   options.EventTopic,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + options.Broker)
	if options.Username != "" && options.Password != "" {
		opts.SetUsername(options.Username)
		opts.SetPassword(options.Password)
	}
	opts.SetClientID(fmt.Sprintf("ocpp-charge-point-%d", time.Now().Unix()))
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info("MQTT connected")
		token := client.Subscribe(n.commandTopic, 1, n.onCommandReceived)
		token.Wait()
		if token.Error() != nil {
			log.Errorf("MQTT subscribe error: %v", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	n.client = mqtt.NewClient(opts)
	return n
}

func (n *mqttChargePointNotifier) SetChannel(notification chan notifier.Notification) {
	n.notification = notification
}

func (n *mqttChargePointNotifier) onCommandReceived(client mqtt.Client, msg mqtt.Message) {
	n.handleCommand(client, msg)
}

func (n *mqttChargePointNotifier) handleCommand(pub publisher, msg mqtt.Message) {
	bt := n.router.Handle(msg.Payload())
	token := pub.Publish(n.commandTopic+replySuffix, 1, false, bt)
	token.Wait()
	if token.Error() != nil {
		log.Errorf("MQTT reply error: %v", token.Error())
	}
}

func (n *mqttChargePointNotifier) publishEvent(pub publisher, event notifier.Notification) {
	bt, err := json.Marshal(event.Data)
	if err != nil {
		log.Error(err)
		return
	}
	// fire and forget; a slow broker must not stall the event loop
	pub.Publish(n.eventTopic+"/"+event.Topic, 0, false, bt)
}

func (n *mqttChargePointNotifier) notificationFromChargePoints() {
	for {
		select {
		case <-n.done:
			return
		case event := <-n.notification:
			n.publishEvent(n.client, event)
		}
	}
}

func (n *mqttChargePointNotifier) Start() error {
	token := n.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %v", token.Error())
	}
	n.done = make(chan struct{})
	if n.notification != nil {
		go n.notificationFromChargePoints()
	}
	return nil
}

func (n *mqttChargePointNotifier) Stop() {
	if n.done == nil {
		return
	}
	close(n.done)
	n.done = nil
	n.client.Disconnect(250)
	log.Info("MQTT stopped")
}
