// Package collector wires pkg/pool's update events into the two outward
// surfaces cmd/pzem-collector exposes: MQTT publication and the status
// HTTP/WebSocket API.
package collector

import (
	"fmt"
	"math/rand"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/vortigont/pzem-edl/internal/config"
	"github.com/vortigont/pzem-edl/pkg/pool"
)

// MQTTPublisher republishes every pool.UpdateEvent under
// "<base_topic>/<meter-id>/<metric>", matching the teacher's
// "<base_topic>/sensor/<id>/state" topic shape.
type MQTTPublisher struct {
	client    mqtt.Client
	baseTopic string
	log       *zap.Logger
}

// NewMQTTPublisher connects to the broker described by cfg and returns a
// publisher ready to be handed to pool.Pool.Subscribe.
func NewMQTTPublisher(cfg config.MQTTConfig, log *zap.Logger) (*MQTTPublisher, error) {
	baseTopic, err := config.CheckMQTTTopic(cfg.BaseTopic)
	if err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(fmt.Sprintf("pzem-edl_%d", rand.Intn(1000)))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &MQTTPublisher{client: client, baseTopic: baseTopic, log: log.Named("collector.mqtt")}, nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() { p.client.Disconnect(250) }

// OnUpdate is suitable as the callback passed to pool.Pool.Subscribe.
func (p *MQTTPublisher) OnUpdate(evt pool.UpdateEvent) {
	if evt.Err != nil {
		return
	}
	metrics := evt.Meter.GetMetrics()
	if metrics == nil {
		return
	}
	p.publish(evt.MeterID, "voltage", metrics.Voltage())
	p.publish(evt.MeterID, "current", metrics.Current())
	p.publish(evt.MeterID, "power", metrics.Power())
	p.publish(evt.MeterID, "energy", metrics.Energy())
}

func (p *MQTTPublisher) publish(meterID, metric string, value float64) {
	topic := fmt.Sprintf("%s/%s/%s", p.baseTopic, meterID, metric)
	token := p.client.Publish(topic, 0, false, fmt.Sprintf("%.3f", value))
	if token.Wait() && token.Error() != nil {
		p.log.Warn("publish failed", zap.String("topic", topic), zap.Error(token.Error()))
	}
}
