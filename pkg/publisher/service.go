// Package publisher pushes completed readings to the campus MQTT broker
// for the downstream dashboard bridge. Publishing is fire-and-forget:
// the poll loop never waits on the broker.
package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	probing "github.com/prometheus-community/pro-bing"

	"github.com/pescampus/campus_energy_meter/pkg/types"
)

type Config struct {
	Broker   string // tcp://host:port
	Topic    string
	ClientID string
	Building string
	Floor    string
}

type Publisher struct {
	cfg    Config
	client mqtt.Client
}

// payload is the wire contract with the dashboard bridge: the reading's
// fields plus the meter's location in the campus hierarchy.
type payload struct {
	types.Reading
	Building string `json:"building"`
	Floor    string `json:"floor"`
}

func New(cfg Config) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("mqtt: connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v. Auto-reconnecting...", err)
	})

	return &Publisher{
		cfg:    cfg,
		client: mqtt.NewClient(opts),
	}
}

// Start connects to the broker. A dead broker is logged, not fatal:
// the paho client keeps retrying in the background while readings
// continue to be logged locally.
func (p *Publisher) Start() error {
	if host := brokerHost(p.cfg.Broker); host != "" {
		if ok, rtt, err := ping(host); ok {
			log.Printf("mqtt: broker %s reachable (rtt %v)", host, rtt)
		} else {
			log.Printf("mqtt: broker %s not answering pings: %v", host, err)
		}
	}

	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt: connect to %s timed out", p.cfg.Broker)
	}
	return token.Error()
}

// Publish sends one reading as JSON at QoS 0.
func (p *Publisher) Publish(reading types.Reading) {
	data, err := json.Marshal(payload{
		Reading:  reading,
		Building: p.cfg.Building,
		Floor:    p.cfg.Floor,
	})
	if err != nil {
		log.Printf("mqtt: marshal error: %v", err)
		return
	}

	token := p.client.Publish(p.cfg.Topic, 0, false, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("mqtt: publish error: %v", token.Error())
		}
	}()
}

func (p *Publisher) Stop() {
	p.client.Disconnect(250)
}

func brokerHost(broker string) string {
	u, err := url.Parse(broker)
	if err != nil || u.Host == "" {
		// Bare host:port form
		host := broker
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		return host
	}
	return u.Hostname()
}

func ping(host string) (bool, time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	err = pinger.Run()
	if err != nil {
		return false, 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt, nil
	}

	return false, 0, fmt.Errorf("no response")
}
